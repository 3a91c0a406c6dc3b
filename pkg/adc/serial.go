package adc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ansel1/merry"
	"github.com/powerman/structlog"
	"github.com/sigurn/crc16"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the baud rate of the sampler's USB CDC port.
	DefaultBaudRate = 921600
	// DefaultBufferSize is the default size for the frames channel buffer.
	DefaultBufferSize = 1024
)

var (
	ErrChecksum   = merry.New("frame checksum mismatch")
	ErrFrameShape = merry.New("malformed frame")
	ErrCodeRange  = merry.New("ADC code out of range")
)

var (
	log      = structlog.New(structlog.KeyUnit, "adc")
	crcTable = crc16.MakeTable(crc16.CRC16_ARC)
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial reads interleaved ADC frames from the sampler MCU.
type Serial struct {
	port     string
	baudRate int
	bufSize  int

	conn      serial.Port
	frames    chan Frame
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	dropped   int
}

// New creates a new Serial source with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		frames:   make(chan Frame, bufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts reading frames.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}
	if d.ctx.Err() != nil {
		return fmt.Errorf("source was closed")
	}

	port, err := serial.Open(d.port, &serial.Mode{
		BaudRate: d.baudRate,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	go d.readFrames(port)

	log.Debug("connected", "port", d.port, "baud", d.baudRate)
	return nil
}

// Close closes the port. The frames channel is closed once the reader exits.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.PrintErr(merry.Prepend(err, "close serial port"))
		}
		d.conn = nil
	}

	d.connected = false
	return nil
}

// Frames returns the channel for reading frames.
func (d *Serial) Frames() <-chan Frame {
	return d.frames
}

// SetSampleRate asks the sampler to run at hz samples per second per slot.
func (d *Serial) SetSampleRate(hz int) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}
	if hz <= 0 {
		return fmt.Errorf("invalid sample rate %d", hz)
	}

	if _, err := d.conn.Write([]byte(rateCommand(hz))); err != nil {
		return fmt.Errorf("failed to send rate command: %w", err)
	}

	return nil
}

// IsConnected returns whether the source is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func rateCommand(hz int) string {
	return "R" + strconv.Itoa(hz) + "\n"
}

// readFrames reads lines from the serial port and parses them into frames.
func (d *Serial) readFrames(rd io.Reader) {
	defer close(d.frames)
	defer func() {
		if r := recover(); r != nil {
			log.PrintErr("panic in readFrames", "panic", r)
		}
	}()

	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		if d.ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		frame, err := parseLine(line)
		if err != nil {
			log.Warn("skip line", "line", line, "err", err)
			continue
		}
		frame.Timestamp = time.Now()

		select {
		case d.frames <- frame:
		case <-d.ctx.Done():
			return
		default:
			d.dropped++
			if d.dropped%1000 == 1 {
				log.Warn("frames channel full, dropping", "dropped", d.dropped)
			}
		}
	}

	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		log.PrintErr(merry.Prepend(err, "read serial port"))
	}
}

// parseLine parses a line from the sampler into a Frame.
// Format: c0,c1,...,cN!XXXX where XXXX is the CRC16/ARC of everything up to and
// including '!'. Lines without '!' are accepted unchecked.
// Example: 2048,1024,3000!1A2B
func parseLine(line string) (Frame, error) {
	data := line
	if i := strings.IndexByte(line, '!'); i >= 0 {
		data = line[:i]
		given := line[i+1:]
		if len(given) != 4 {
			return Frame{}, merry.Prependf(ErrFrameShape, "checksum %q", given)
		}
		want := fmt.Sprintf("%04X", crc16.Checksum([]byte(line[:i+1]), crcTable))
		if !strings.EqualFold(given, want) {
			return Frame{}, merry.Appendf(ErrChecksum, "got %s, want %s", given, want)
		}
	}

	parts := strings.Split(data, ",")
	if len(parts) > MaxSlots {
		return Frame{}, merry.Appendf(ErrFrameShape, "%d slots, max %d", len(parts), MaxSlots)
	}

	var f Frame
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Frame{}, merry.Prependf(ErrFrameShape, "slot %d: %v", i, err)
		}
		if v > MaxCode {
			return Frame{}, merry.Appendf(ErrCodeRange, "slot %d: %d (max %d)", i, v, MaxCode)
		}
		f.Codes[i] = uint16(v)
	}
	f.Count = len(parts)

	return f, nil
}
