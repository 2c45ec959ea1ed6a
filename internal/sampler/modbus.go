package sampler

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// ModbusConfig configures a Modbus RTU sampler over a serial line.
type ModbusConfig struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string // "N", "E" or "O"
	StopBits int
	Timeout  time.Duration
	UnitID   byte

	// Address is the first input register to read. Entities maps each of
	// the consecutive registers to an entity id.
	Address  uint16
	Entities []types.EntityID

	// Divisor scales each raw register value.
	Divisor float64

	// Signed reads registers as two's-complement int16.
	Signed bool

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// DefaultModbusConfig returns the settings of an SHT20 RS-485 sensor:
// temperature and humidity in tenths at input registers 30002-30003.
func DefaultModbusConfig() ModbusConfig {
	return ModbusConfig{
		Device:   config.DefaultModbusDevice,
		BaudRate: config.DefaultModbusBaudRate,
		DataBits: 8,
		Parity:   config.DefaultModbusParity,
		StopBits: config.DefaultModbusStopBits,
		Timeout:  config.DefaultModbusTimeout,
		UnitID:   config.DefaultModbusUnitID,
		Address:  config.DefaultModbusAddress,
		Entities: []types.EntityID{config.EntityTemperature, config.EntityHumidity},
		Divisor:  config.DefaultModbusDivisor,
	}
}

// Validate checks the configuration for errors.
func (c *ModbusConfig) Validate() error {
	errs := errors.NewValidationErrors()
	if c.Device == "" {
		errs.AddMissing("sampler.modbus.device")
	}
	if c.BaudRate <= 0 {
		errs.AddField("sampler.modbus.baud_rate", "must be positive")
	}
	switch c.Parity {
	case "N", "E", "O":
	default:
		errs.Add(errors.NewInvalidValue("sampler.modbus.parity", c.Parity, "must be N, E or O"))
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		errs.Add(errors.NewInvalidValue("sampler.modbus.stop_bits", c.StopBits, "must be 1 or 2"))
	}
	if len(c.Entities) == 0 {
		errs.AddMissing("sampler.modbus.entities")
	}
	if len(c.Entities) > 125 {
		errs.AddField("sampler.modbus.entities", "at most 125 registers per read")
	}
	if c.Divisor == 0 {
		errs.AddField("sampler.modbus.divisor", "cannot be zero")
	}
	return errs.Err()
}

// modbusConn is an open connection that can read input registers.
type modbusConn interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	Close() error
}

// ModbusSampler reads consecutive input registers from one RTU node.
type ModbusSampler struct {
	cfg  ModbusConfig
	now  func() time.Time
	dial func(cfg *ModbusConfig) (modbusConn, error)
}

// NewModbus creates a Modbus sampler. The serial port is not opened until
// the first Poll.
func NewModbus(cfg ModbusConfig) (*ModbusSampler, error) {
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ModbusSampler{cfg: cfg, now: clock(cfg.Now), dial: dialRTU}, nil
}

// Name describes the sampler for logs.
func (s *ModbusSampler) Name() string {
	return fmt.Sprintf("modbus %s unit %d", s.cfg.Device, s.cfg.UnitID)
}

// Poll opens the port, reads the registers and closes the port.
func (s *ModbusSampler) Poll(ctx context.Context) (Batch, error) {
	ts := s.now().Unix()

	if err := checkContext(ctx); err != nil {
		return Batch{}, err
	}

	conn, err := s.dial(&s.cfg)
	if err != nil {
		return Batch{}, errors.NewSampler(errors.ErrTransportOpen, "open %s: %v", s.cfg.Device, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug("close serial port", "device", s.cfg.Device, "error", err)
		}
	}()

	if err := checkContext(ctx); err != nil {
		return Batch{}, err
	}

	count := uint16(len(s.cfg.Entities))
	raw, err := conn.ReadInputRegisters(s.cfg.Address, count)
	if err != nil {
		if isTimeoutError(err) {
			return Batch{}, errors.NewSampler(errors.ErrTimeout, "read registers %d+%d: %v", s.cfg.Address, count, err)
		}
		return Batch{}, errors.NewSampler(errors.ErrTransportRead, "read registers %d+%d: %v", s.cfg.Address, count, err)
	}

	values, err := decodeRegisters(raw, int(count), s.cfg.Divisor, s.cfg.Signed)
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{Timestamp: ts, Readings: make([]Reading, len(values))}
	for i, v := range values {
		batch.Readings[i] = Reading{Entity: s.cfg.Entities[i], Value: v}
	}
	return batch, nil
}

// decodeRegisters converts big-endian register words to scaled values.
func decodeRegisters(raw []byte, count int, divisor float64, signed bool) ([]float64, error) {
	if len(raw) != 2*count {
		return nil, errors.NewSampler(errors.ErrMalformedResponse,
			"got %d bytes for %d registers", len(raw), count)
	}

	values := make([]float64, count)
	for i := 0; i < count; i++ {
		word := binary.BigEndian.Uint16(raw[2*i:])
		if signed {
			values[i] = float64(int16(word)) / divisor
		} else {
			values[i] = float64(word) / divisor
		}
	}
	return values, nil
}

// rtuConn couples a modbus client with the handler owning the serial port.
type rtuConn struct {
	modbus.Client
	handler *modbus.RTUClientHandler
}

func (c *rtuConn) Close() error {
	return c.handler.Close()
}

func dialRTU(cfg *ModbusConfig) (modbusConn, error) {
	handler := modbus.NewRTUClientHandler(cfg.Device)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = cfg.DataBits
	handler.Parity = cfg.Parity
	handler.StopBits = cfg.StopBits
	handler.SlaveId = cfg.UnitID
	handler.Timeout = cfg.Timeout

	if err := handler.Connect(); err != nil {
		return nil, err
	}
	return &rtuConn{Client: modbus.NewClient(handler), handler: handler}, nil
}
