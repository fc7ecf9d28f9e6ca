package proc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync/atomic"

	"github.com/asticode/go-astiav"
)

const (
	opusSampleRate = 48000
	opusFrameSize  = 960
	opusBitRate    = 192000
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)
}

// Transcoder decodes any audio container astiav understands and re-encodes it
// as 20ms stereo Opus frames. Volume is applied to the PCM in between.
type Transcoder struct {
	inputCtx               *astiav.FormatContext
	ioCtx                  *astiav.IOContext
	decoderCtx, encoderCtx *astiav.CodecContext
	resampleCtx            *astiav.SoftwareResampleContext
	fifo                   *astiav.AudioFifo
	packet                 *astiav.Packet
	frame, pcm             *astiav.Frame
	audioStream            int

	reader  io.Reader
	onFrame func([]byte)
	pts     int64
	volume  atomic.Int32
}

func NewTranscoder(r io.Reader, volume int) *Transcoder {
	t := &Transcoder{
		reader: r,
		packet: astiav.AllocPacket(),
		frame:  astiav.AllocFrame(),
		pcm:    astiav.AllocFrame(),
	}
	t.volume.Store(int32(volume))
	return t
}

func (t *Transcoder) SetVolume(percent int) { t.volume.Store(int32(percent)) }

// Open probes the input and prepares the decoder, resampler and encoder.
func (t *Transcoder) Open() error {
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc format context")
	}

	ioCtx, err := astiav.AllocIOContext(16*1024, false, func(b []byte) (int, error) {
		return t.reader.Read(b)
	}, nil, nil)
	if err != nil {
		return err
	}
	t.ioCtx = ioCtx
	t.inputCtx.SetPb(ioCtx)
	t.inputCtx.SetFlags(t.inputCtx.Flags().Add(astiav.FormatContextFlagCustomIo))

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("probesize", "5000000", 0)
	_ = opts.Set("analyzeduration", "5000000", 0)
	if err := t.inputCtx.OpenInput("", nil, opts); err != nil {
		return err
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}

	t.audioStream = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStream = s.Index()
			break
		}
	}
	if t.audioStream < 0 {
		return errors.New("input has no audio stream")
	}

	params := t.inputCtx.Streams()[t.audioStream].CodecParameters()
	dec := astiav.FindDecoder(params.CodecID())
	if dec == nil {
		return errors.New("no decoder for input codec")
	}
	t.decoderCtx = astiav.AllocCodecContext(dec)
	if err := params.ToCodecContext(t.decoderCtx); err != nil {
		return err
	}
	if err := t.decoderCtx.Open(dec, nil); err != nil {
		return err
	}

	enc := astiav.FindEncoderByName("libopus")
	if enc == nil {
		enc = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if enc == nil {
		return errors.New("no opus encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(enc)
	t.encoderCtx.SetBitRate(opusBitRate)
	t.encoderCtx.SetSampleRate(opusSampleRate)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, opusSampleRate))

	encOpts := astiav.NewDictionary()
	defer encOpts.Free()
	_ = encOpts.Set("vbr", "on", 0)
	_ = encOpts.Set("compression_level", "10", 0)
	_ = encOpts.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(enc, encOpts); err != nil {
		return err
	}

	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to alloc resampler")
	}
	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), opusFrameSize*2)
	return nil
}

// Run transcodes until the input ends or ctx is cancelled. on receives each
// Opus packet.
func (t *Transcoder) Run(ctx context.Context, on func([]byte)) error {
	t.onFrame = on
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}
		if t.packet.StreamIndex() != t.audioStream {
			t.packet.Unref()
			continue
		}
		err := t.decoderCtx.SendPacket(t.packet)
		t.packet.Unref()
		if err != nil {
			return err
		}
		t.drainDecoder()
		t.drainFifo(opusFrameSize)
	}

	_ = t.decoderCtx.SendPacket(nil)
	t.drainDecoder()
	t.drainFifo(1)

	_ = t.encoderCtx.SendFrame(nil)
	t.receivePackets()
	return nil
}

func (t *Transcoder) preparePCM(samples int) {
	t.pcm.Unref()
	t.pcm.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.pcm.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.pcm.SetSampleRate(t.encoderCtx.SampleRate())
	t.pcm.SetNbSamples(samples)
	_ = t.pcm.AllocBuffer(0)
}

func (t *Transcoder) drainDecoder() {
	for t.decoderCtx.ReceiveFrame(t.frame) == nil {
		out := int(astiav.RescaleQ(int64(t.frame.NbSamples()),
			astiav.NewRational(1, t.frame.SampleRate()),
			astiav.NewRational(1, t.encoderCtx.SampleRate())))
		if out > 0 {
			t.preparePCM(out)
			if t.resampleCtx.ConvertFrame(t.frame, t.pcm) == nil {
				_, _ = t.fifo.Write(t.pcm)
			}
		}
		t.frame.Unref()
	}
}

// drainFifo encodes full Opus frames while at least min samples are queued.
func (t *Transcoder) drainFifo(min int) {
	for t.fifo.Size() >= min && t.fifo.Size() > 0 {
		n := opusFrameSize
		if t.fifo.Size() < n {
			n = t.fifo.Size()
		}
		t.preparePCM(n)
		_, _ = t.fifo.Read(t.pcm)
		t.applyVolume()
		t.pcm.SetPts(t.pts)
		t.pts += int64(n)
		if t.encoderCtx.SendFrame(t.pcm) == nil {
			t.receivePackets()
		}
	}
}

func (t *Transcoder) applyVolume() {
	v := int(t.volume.Load())
	if v == 100 {
		return
	}
	b, err := t.pcm.Data().Bytes(1)
	if err != nil {
		return
	}
	applyGain(b, v)
	_ = t.pcm.Data().SetBytes(b, 1)
}

func (t *Transcoder) receivePackets() {
	for {
		p := astiav.AllocPacket()
		if t.encoderCtx.ReceivePacket(p) != nil {
			p.Free()
			return
		}
		if t.onFrame != nil {
			t.onFrame(append([]byte(nil), p.Data()...))
		}
		p.Free()
	}
}

func (t *Transcoder) Close() {
	if t.fifo != nil {
		t.fifo.Free()
	}
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
	}
	if t.ioCtx != nil {
		t.ioCtx.Free()
	}
	t.pcm.Free()
	t.frame.Free()
	t.packet.Free()
}

// applyGain scales interleaved little-endian signed 16-bit samples in place,
// clipping at the sample range.
func applyGain(b []byte, percent int) {
	for i := 0; i+1 < len(b); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(b[i:])))
		s = s * int32(percent) / 100
		s = max(math.MinInt16, min(math.MaxInt16, s))
		binary.LittleEndian.PutUint16(b[i:], uint16(int16(s)))
	}
}
