package manifest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	m "github.com/Eyevinn/dash-mpd/mpd"
	"github.com/Eyevinn/dash-mpd/xml"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/m1k1o/go-segmentbuffer/pkg/fetcher"
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

var (
	ErrNoPeriods = errors.New("manifest has no periods")
	ErrNoTracks  = errors.New("manifest has no playable tracks")
)

// Load fetches the manifest at manifestURL and returns the descriptors of
// every video rendition and of the first audio representation.
func Load(ctx context.Context, f fetcher.Fetcher, manifestURL string) ([]track.Descriptor, error) {
	data, err := f.Fetch(ctx, manifestURL, fetcher.WithoutCache())
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	return Parse(data, manifestURL)
}

// Parse converts a static MPD into track descriptors. Only the first period
// is used; representations addressed other than by SegmentTemplate are
// skipped.
func Parse(data []byte, manifestURL string) ([]track.Descriptor, error) {
	logger := log.With().Str("module", "manifest").Logger()

	var mpd m.MPD
	if err := xml.Unmarshal(data, &mpd); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if len(mpd.Periods) == 0 {
		return nil, ErrNoPeriods
	}

	period := mpd.Periods[0]

	var total float64
	if mpd.MediaPresentationDuration != nil {
		total = time.Duration(*mpd.MediaPresentationDuration).Seconds()
	} else if period.Duration != nil {
		total = time.Duration(*period.Duration).Seconds()
	}

	base := resolveBase(manifestURL, mpd.BaseURL)
	base = resolveBase(base, period.BaseURLs)

	descriptors := []track.Descriptor{}
	hasAudio := false

	for _, as := range period.AdaptationSets {
		asBase := resolveBase(base, as.BaseURLs)

		for _, rep := range as.Representations {
			kind, ok := kindOf(as, rep)
			if !ok {
				continue
			}

			if kind == track.KindAudio && hasAudio {
				continue
			}

			tmpl := mergeTemplate(as.SegmentTemplate, rep.SegmentTemplate)
			if tmpl == nil {
				logger.Warn().Str("id", rep.Id).Msg("representation has no segment template, skipping")
				continue
			}

			desc := track.Descriptor{
				ID:            rep.Id,
				Kind:          kind,
				BaseURL:       resolveBase(asBase, rep.BaseURLs),
				InitTemplate:  tmpl.Initialization,
				MediaTemplate: tmpl.Media,
				Timescale:     uint32(tmpl.GetTimescale()),
				TotalDuration: total,
				MimeType:      lo.Ternary(rep.MimeType != "", rep.MimeType, as.MimeType),
				Codecs:        lo.Ternary(rep.Codecs != "", rep.Codecs, as.Codecs),
				Bandwidth:     int(rep.Bandwidth),
			}

			if kind == track.KindVideo {
				desc.Width = int(lo.Ternary(rep.Width != 0, rep.Width, as.Width))
				desc.Height = int(lo.Ternary(rep.Height != 0, rep.Height, as.Height))
			}

			if tmpl.SegmentTimeline != nil {
				desc.Mode = track.ModeExplicitTimeline
				desc.Timeline, desc.SegmentDuration = expandTimeline(tmpl.SegmentTimeline.S, float64(desc.Timescale)*total)
				if desc.TotalDuration == 0 && len(desc.Timeline) > 0 {
					span := desc.Timeline[len(desc.Timeline)-1] + desc.SegmentDuration - desc.Timeline[0]
					desc.TotalDuration = float64(span) / float64(desc.Timescale)
				}
			} else {
				desc.Mode = track.ModeImplicitCount
				desc.StartIndex = 1
				if tmpl.StartNumber != nil {
					desc.StartIndex = int(*tmpl.StartNumber)
				}
				if tmpl.Duration != nil {
					desc.SegmentDuration = uint64(*tmpl.Duration)
				}
			}

			if kind == track.KindAudio {
				hasAudio = true
			}

			logger.Debug().
				Str("id", desc.ID).
				Str("kind", string(desc.Kind)).
				Str("mode", string(desc.Mode)).
				Str("base", desc.BaseURL).
				Msg("track found")

			descriptors = append(descriptors, desc)
		}
	}

	if len(descriptors) == 0 {
		return nil, ErrNoTracks
	}

	return descriptors, nil
}

func kindOf(as *m.AdaptationSetType, rep *m.RepresentationType) (track.Kind, bool) {
	contentType := string(as.ContentType)
	if contentType == "" {
		mime := lo.Ternary(rep.MimeType != "", rep.MimeType, as.MimeType)
		contentType, _, _ = strings.Cut(mime, "/")
	}

	switch contentType {
	case "video":
		return track.KindVideo, true
	case "audio":
		return track.KindAudio, true
	}

	return "", false
}

// resolveBase resolves the first BaseURL element against base.
func resolveBase(base string, baseURLs []*m.BaseURLType) string {
	if len(baseURLs) == 0 {
		return base
	}

	ref, err := url.Parse(strings.TrimSpace(string(baseURLs[0].Value)))
	if err != nil {
		return base
	}

	parent, err := url.Parse(base)
	if err != nil {
		return ref.String()
	}

	return parent.ResolveReference(ref).String()
}

// mergeTemplate returns the representation template with attributes it
// leaves out inherited from the adaptation set template.
func mergeTemplate(parent, child *m.SegmentTemplateType) *m.SegmentTemplateType {
	if child == nil {
		return parent
	}
	if parent == nil {
		return child
	}

	merged := *child
	merged.Media = lo.CoalesceOrEmpty(child.Media, parent.Media)
	merged.Index = lo.CoalesceOrEmpty(child.Index, parent.Index)
	merged.Initialization = lo.CoalesceOrEmpty(child.Initialization, parent.Initialization)
	merged.Timescale = lo.CoalesceOrEmpty(child.Timescale, parent.Timescale)
	merged.Duration = lo.CoalesceOrEmpty(child.Duration, parent.Duration)
	merged.StartNumber = lo.CoalesceOrEmpty(child.StartNumber, parent.StartNumber)
	merged.EndNumber = lo.CoalesceOrEmpty(child.EndNumber, parent.EndNumber)
	merged.SegmentTimeline = lo.CoalesceOrEmpty(child.SegmentTimeline, parent.SegmentTimeline)
	merged.PresentationTimeOffset = lo.CoalesceOrEmpty(child.PresentationTimeOffset, parent.PresentationTimeOffset)
	return &merged
}

// expandTimeline lists the start time of every segment described by a
// SegmentTimeline, and returns the duration of the last one. A negative
// repeat count repeats until span ticks past the first segment.
func expandTimeline(entries []*m.S, span float64) ([]uint64, uint64) {
	var (
		starts []uint64
		t      uint64
		last   uint64
		end    float64
	)

	for i, s := range entries {
		if s.T != nil {
			t = *s.T
		}
		if i == 0 {
			end = float64(t) + span
		}

		repeat := s.R
		if repeat < 0 {
			// until the next entry or the end of the period
			limit := end
			if i+1 < len(entries) && entries[i+1].T != nil {
				limit = float64(*entries[i+1].T)
			}
			repeat = 0
			if s.D > 0 && limit > float64(t) {
				repeat = int((limit-float64(t))/float64(s.D)+0.5) - 1
			}
		}

		for r := 0; r <= repeat; r++ {
			starts = append(starts, t)
			t += s.D
		}

		last = s.D
	}

	return starts, last
}
