package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/m1k1o/go-segmentbuffer/pkg/engine"
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

var ErrSinkClosed = errors.New("sink closed")

// FileSource creates one FileSink per track kind, each writing to
// <dir>/<kind>.mp4.
type FileSource struct {
	logger zerolog.Logger
	fs     afero.Fs
	dir    string
	onEOS  func()

	mu    sync.Mutex
	sinks map[track.Kind]*FileSink
	eos   bool
}

func NewFileSource(fs afero.Fs, dir string, logger zerolog.Logger, onEOS func()) *FileSource {
	return &FileSource{
		logger: logger.With().Str("submodule", "sink").Logger(),
		fs:     fs,
		dir:    dir,
		onEOS:  onEOS,
		sinks:  map[track.Kind]*FileSink{},
	}
}

func (s *FileSource) CreateSink(mime string) (engine.Sink, error) {
	prefix, _, _ := strings.Cut(mime, "/")
	kind := track.Kind(prefix)
	if kind != track.KindVideo && kind != track.KindAudio {
		return nil, fmt.Errorf("unsupported mime type %q", mime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sink, ok := s.sinks[kind]; ok {
		return sink, nil
	}

	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return nil, err
	}

	name := path.Join(s.dir, string(kind)+".mp4")
	file, err := s.fs.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	sink := &FileSink{
		mime: mime,
		name: name,
		file: file,
	}
	s.sinks[kind] = sink

	s.logger.Info().Str("kind", string(kind)).Str("mime", mime).Str("file", name).Msg("sink created")
	return sink, nil
}

func (s *FileSource) EndOfStream() error {
	s.mu.Lock()
	s.eos = true
	s.mu.Unlock()

	s.logger.Info().Msg("end of stream")

	if s.onEOS != nil {
		s.onEOS()
	}
	return nil
}

func (s *FileSource) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.eos
}

func (s *FileSource) Sink(kind track.Kind) (*FileSink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sink, ok := s.sinks[kind]
	return sink, ok
}

// BufferAhead returns the smallest buffer ahead of t over all sinks.
func (s *FileSource) BufferAhead(t float64) float64 {
	s.mu.Lock()
	sinks := make([]*FileSink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()

	if len(sinks) == 0 {
		return 0
	}

	ahead := -1.0
	for _, sink := range sinks {
		a := engine.BufferAhead(sink.Buffered(), t)
		if ahead < 0 || a < ahead {
			ahead = a
		}
	}
	return ahead
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, sink := range s.sinks {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}

// FileSink appends every chunk to a file and keeps the buffered ranges the
// chunks describe.
type FileSink struct {
	mime string
	name string

	mu      sync.Mutex
	file    afero.File
	ranges  []engine.Range
	written int64
	chunks  int
}

func (s *FileSink) Append(ctx context.Context, chunk engine.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrSinkClosed
	}

	n, err := s.file.Write(chunk.Data)
	s.written += int64(n)
	if err != nil {
		return err
	}

	s.chunks++
	if !chunk.Init {
		s.ranges = engine.AddRange(s.ranges, engine.Range{
			Start: chunk.Start,
			End:   chunk.Start + chunk.Duration,
		})
	}
	return nil
}

func (s *FileSink) Remove(ctx context.Context, start, end float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrSinkClosed
	}

	s.ranges = engine.SubtractRange(s.ranges, start, end)
	return nil
}

func (s *FileSink) Buffered() []engine.Range {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]engine.Range{}, s.ranges...)
}

func (s *FileSink) Name() string {
	return s.name
}

func (s *FileSink) Written() (bytes int64, chunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.written, s.chunks
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil
	return err
}
