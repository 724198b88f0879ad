package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	m "github.com/Eyevinn/dash-mpd/mpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-segmentbuffer/pkg/fetcher"
	"github.com/m1k1o/go-segmentbuffer/pkg/track"
)

const implicitMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT12S" minBufferTime="PT2S" profiles="urn:mpeg:dash:profile:isoff-on-demand:2011">
  <Period id="0">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="1" duration="4" startNumber="1" initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/seg-$Number$.m4s"/>
      <Representation id="v1" bandwidth="800000" codecs="avc1.64001f" width="640" height="360"/>
      <Representation id="v2" bandwidth="2400000" codecs="avc1.64001f" width="1280" height="720"/>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4">
      <BaseURL>audio/</BaseURL>
      <SegmentTemplate timescale="1" duration="4" initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/seg-$Number$.m4s"/>
      <Representation id="a1" bandwidth="128000" codecs="mp4a.40.2"/>
      <Representation id="a2" bandwidth="64000" codecs="mp4a.40.2"/>
    </AdaptationSet>
    <AdaptationSet contentType="text" mimeType="text/vtt">
      <Representation id="t1" bandwidth="100"/>
    </AdaptationSet>
  </Period>
</MPD>`

const timelineMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT10S" minBufferTime="PT2S">
  <BaseURL>https://cdn.example.com/content/</BaseURL>
  <Period id="0">
    <AdaptationSet contentType="video" mimeType="video/mp4" codecs="avc1.4d401f" width="1920" height="1080">
      <Representation id="hd" bandwidth="5000000">
        <SegmentTemplate timescale="1000" initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/$Time$.m4s">
          <SegmentTimeline>
            <S t="0" d="4000" r="1"/>
            <S d="2000"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseImplicit(t *testing.T) {
	descs, err := Parse([]byte(implicitMPD), "https://cdn.example.com/movie/manifest.mpd")
	require.NoError(t, err)
	require.Len(t, descs, 3)

	v1 := descs[0]
	assert.Equal(t, "v1", v1.ID)
	assert.Equal(t, track.KindVideo, v1.Kind)
	assert.Equal(t, track.ModeImplicitCount, v1.Mode)
	assert.Equal(t, "https://cdn.example.com/movie/manifest.mpd", v1.BaseURL)
	assert.Equal(t, 1, v1.StartIndex)
	assert.Equal(t, uint32(1), v1.Timescale)
	assert.Equal(t, uint64(4), v1.SegmentDuration)
	assert.Equal(t, 12.0, v1.TotalDuration)
	assert.Equal(t, "video/mp4", v1.MimeType)
	assert.Equal(t, "avc1.64001f", v1.Codecs)
	assert.Equal(t, 800000, v1.Bandwidth)
	assert.Equal(t, 640, v1.Width)
	assert.Equal(t, 360, v1.Height)

	assert.Equal(t, "v2", descs[1].ID)
	assert.Equal(t, "1280x720", descs[1].Resolution())

	audio := descs[2]
	assert.Equal(t, "a1", audio.ID)
	assert.Equal(t, track.KindAudio, audio.Kind)
	assert.Equal(t, "https://cdn.example.com/movie/audio/", audio.BaseURL)
	assert.Equal(t, 1, audio.StartIndex)
	assert.Zero(t, audio.Width)
}

func TestParseTimeline(t *testing.T) {
	descs, err := Parse([]byte(timelineMPD), "https://origin.example.com/manifest.mpd")
	require.NoError(t, err)
	require.Len(t, descs, 1)

	hd := descs[0]
	assert.Equal(t, track.ModeExplicitTimeline, hd.Mode)
	assert.Equal(t, "https://cdn.example.com/content/", hd.BaseURL)
	assert.Equal(t, []uint64{0, 4000, 8000}, hd.Timeline)
	assert.Equal(t, uint64(2000), hd.SegmentDuration)
	assert.Equal(t, uint32(1000), hd.Timescale)
	assert.Equal(t, "avc1.4d401f", hd.Codecs)
	assert.Equal(t, "1920x1080", hd.Resolution())
}

const offsetMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" minBufferTime="PT2S">
  <Period id="0">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="90000" presentationTimeOffset="900000" initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/$Time$.m4s">
        <SegmentTimeline>
          <S t="900000" d="360000" r="2"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="sd" bandwidth="800000" width="640" height="360"/>
      <Representation id="hd" bandwidth="2400000" width="1280" height="720">
        <SegmentTemplate media="hd/$Time$.m4s"/>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseTimelineOffset(t *testing.T) {
	descs, err := Parse([]byte(offsetMPD), "https://origin.example.com/manifest.mpd")
	require.NoError(t, err)
	require.Len(t, descs, 2)

	sd := descs[0]
	assert.Equal(t, []uint64{900000, 1260000, 1620000}, sd.Timeline)
	assert.Equal(t, 12.0, sd.TotalDuration)
	assert.Equal(t, 0.0, sd.SegmentStart(0))
	assert.Equal(t, 8.0, sd.SegmentStart(2))
	assert.Equal(t, 1, sd.IndexForTime(5))

	// attributes missing on the representation come from the adaptation set
	hd := descs[1]
	assert.Equal(t, "hd/$Time$.m4s", hd.MediaTemplate)
	assert.Equal(t, "$RepresentationID$/init.mp4", hd.InitTemplate)
	assert.Equal(t, uint32(90000), hd.Timescale)
	assert.Equal(t, track.ModeExplicitTimeline, hd.Mode)
	assert.Equal(t, sd.Timeline, hd.Timeline)
}

func TestMergeTemplate(t *testing.T) {
	timescale, duration, start := uint32(1000), uint32(4000), uint32(5)

	parent := &m.SegmentTemplateType{
		Media:          "$Number$.m4s",
		Initialization: "init.mp4",
	}
	parent.Timescale = &timescale
	parent.Duration = &duration
	parent.StartNumber = &start

	child := &m.SegmentTemplateType{Media: "rep/$Number$.m4s"}

	merged := mergeTemplate(parent, child)
	assert.Equal(t, "rep/$Number$.m4s", merged.Media)
	assert.Equal(t, "init.mp4", merged.Initialization)
	assert.Equal(t, uint32(1000), merged.GetTimescale())
	require.NotNil(t, merged.StartNumber)
	assert.Equal(t, uint32(5), *merged.StartNumber)
	require.NotNil(t, merged.Duration)
	assert.Equal(t, uint32(4000), *merged.Duration)

	// the inputs are left alone
	assert.Nil(t, child.Timescale)
	assert.Same(t, parent, mergeTemplate(parent, nil))
	assert.Same(t, child, mergeTemplate(nil, child))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("not xml"), "https://example.com/a.mpd")
	assert.Error(t, err)

	_, err = Parse([]byte(`<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static"></MPD>`), "https://example.com/a.mpd")
	assert.ErrorIs(t, err, ErrNoPeriods)

	_, err = Parse([]byte(`<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static"><Period id="0">
  <AdaptationSet contentType="text" mimeType="text/vtt"><Representation id="t1" bandwidth="1"/></AdaptationSet>
</Period></MPD>`), "https://example.com/a.mpd")
	assert.ErrorIs(t, err, ErrNoTracks)
}

func TestExpandTimelineOpenRepeat(t *testing.T) {
	v := uint64(0)
	starts, last := expandTimeline([]*m.S{{T: &v, D: 2, R: -1}}, 10)
	assert.Equal(t, []uint64{0, 2, 4, 6, 8}, starts)
	assert.Equal(t, uint64(2), last)

	// the span counts from the first segment
	v = 100
	starts, _ = expandTimeline([]*m.S{{T: &v, D: 2, R: -1}}, 6)
	assert.Equal(t, []uint64{100, 102, 104}, starts)
}

func TestLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dash+xml")
		_, _ = w.Write([]byte(implicitMPD))
	}))
	defer srv.Close()

	f := fetcher.New(fetcher.Config{})
	defer f.Destroy()

	descs, err := Load(context.Background(), f, srv.URL+"/movie/manifest.mpd")
	require.NoError(t, err)
	require.Len(t, descs, 3)
	assert.Equal(t, srv.URL+"/movie/audio/", descs[2].BaseURL)

	// manifests bypass the segment cache
	assert.Zero(t, f.Stats().CacheEntries)
}
