package rtc

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"
)

var ErrUnsupportedMime = errors.New("unsupported mime type for file source")

const nullSampleInterval = 20 * time.Millisecond

// TrackWriter feeds a local track from an ogg/ivf file, or with null samples
// when no file is given. Once a file is exhausted it keeps the track alive
// with null samples.
type TrackWriter struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   logger.Logger
	track    *webrtc.TrackLocalStaticSample
	filePath string
	mime     string
	muted    atomic.Bool

	file      *os.File
	ogg       *oggreader.OggReader
	ivfheader *ivfreader.IVFFileHeader
	ivf       *ivfreader.IVFReader
}

func NewTrackWriter(ctx context.Context, track *webrtc.TrackLocalStaticSample, filePath string, l logger.Logger) *TrackWriter {
	ctx, cancel := context.WithCancel(ctx)
	return &TrackWriter{
		ctx:      ctx,
		cancel:   cancel,
		logger:   l.WithValues("trackID", track.ID()),
		track:    track,
		filePath: filePath,
		mime:     strings.ToLower(track.Codec().MimeType),
	}
}

func (w *TrackWriter) Start() error {
	if w.filePath == "" {
		go w.writeNull()
		return nil
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return err
	}
	w.file = file

	w.logger.Debugw("starting track writer", "mime", w.mime, "file", w.filePath)
	switch w.mime {
	case strings.ToLower(webrtc.MimeTypeOpus):
		w.ogg, _, err = oggreader.NewWith(file)
		if err != nil {
			_ = file.Close()
			return err
		}
		go w.writeOgg()
	case strings.ToLower(webrtc.MimeTypeVP8):
		w.ivf, w.ivfheader, err = ivfreader.NewWith(file)
		if err != nil {
			_ = file.Close()
			return err
		}
		go w.writeVP8()
	default:
		_ = file.Close()
		return errors.Wrap(ErrUnsupportedMime, w.mime)
	}
	return nil
}

func (w *TrackWriter) Stop() {
	w.cancel()
}

func (w *TrackWriter) Stopped() bool {
	return w.ctx.Err() != nil
}

// SetMuted keeps the writer paced but stops it from emitting samples.
func (w *TrackWriter) SetMuted(muted bool) {
	w.muted.Store(muted)
}

func (w *TrackWriter) Muted() bool {
	return w.muted.Load()
}

func (w *TrackWriter) writeSample(sample media.Sample) error {
	if w.muted.Load() {
		return nil
	}
	return w.track.WriteSample(sample)
}

func (w *TrackWriter) writeNull() {
	sample := media.Sample{Data: []byte{0x0, 0xff, 0xff, 0xff, 0xff}, Duration: 30 * time.Millisecond}
	ticker := time.NewTicker(nullSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = w.writeSample(sample)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *TrackWriter) writeOgg() {
	// the granule difference is the number of samples in the page
	var lastGranule uint64
	for {
		if w.ctx.Err() != nil {
			w.onWriteComplete(false)
			return
		}
		pageData, pageHeader, err := w.ogg.ParseNextPage()
		if err == io.EOF {
			w.logger.Debugw("all audio samples parsed and sent")
			w.onWriteComplete(true)
			return
		}
		if err != nil {
			w.logger.Errorw("could not parse ogg page", err)
			w.onWriteComplete(true)
			return
		}

		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration((sampleCount/48000)*1000) * time.Millisecond

		if err = w.writeSample(media.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			w.logger.Errorw("could not write sample", err)
			w.onWriteComplete(false)
			return
		}

		w.sleep(sampleDuration)
	}
}

func (w *TrackWriter) writeVP8() {
	// pace frames at playback speed, sending everything at once causes heavy loss
	sleepTime := time.Millisecond * time.Duration((float32(w.ivfheader.TimebaseNumerator)/float32(w.ivfheader.TimebaseDenominator))*1000)
	for {
		if w.ctx.Err() != nil {
			w.onWriteComplete(false)
			return
		}
		frame, _, err := w.ivf.ParseNextFrame()
		if err == io.EOF {
			w.logger.Debugw("all video frames parsed and sent")
			w.onWriteComplete(true)
			return
		}
		if err != nil {
			w.logger.Errorw("could not parse VP8 frame", err)
			w.onWriteComplete(true)
			return
		}

		w.sleep(sleepTime)
		if err = w.writeSample(media.Sample{Data: frame, Duration: time.Second}); err != nil {
			w.logger.Errorw("could not write sample", err)
			w.onWriteComplete(false)
			return
		}
	}
}

func (w *TrackWriter) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-w.ctx.Done():
	}
}

func (w *TrackWriter) onWriteComplete(keepAlive bool) {
	if w.file != nil {
		_ = w.file.Close()
	}
	if keepAlive && w.ctx.Err() == nil {
		w.writeNull()
	}
}
