package modbuscomm

import (
	"encoding/binary"
	"errors"
	"log"
	"math"
	"os"
	"time"

	"github.com/goburrow/modbus"
)

// ErrRegisterNotFound is returned when a value names no configured register.
var ErrRegisterNotFound = errors.New("register name not found in register array")

// Poller reads and writes the registers of one Modbus TCP target.
type Poller struct {
	handler  *modbus.TCPClientHandler
	pollRate int
}

// PollerConfig is the configuration format for Poller
type PollerConfig struct {
	IPAddr       string `json:"IPAddr"`
	Port         string `json:"Port"`
	SlaveID      byte   `json:"SlaveID"`
	Timeout      int    `json:"Timeout"`
	PollRate     int    `json:"PollRate"`
	EnableLogger bool   `json:"EnableLogger"`
}

// NewPoller is a factory for the Poller struct
func NewPoller(cfg PollerConfig) Poller {
	handler := modbus.NewTCPClientHandler(cfg.IPAddr + ":" + cfg.Port)
	handler.Timeout = time.Millisecond * time.Duration(cfg.Timeout)
	handler.SlaveId = cfg.SlaveID

	if cfg.EnableLogger {
		handler.Logger = log.New(os.Stdout, "modbus: ", log.LstdFlags)
	}

	return Poller{
		handler:  handler,
		pollRate: cfg.PollRate,
	}
}

// PollRate is the configured interval between reads.
func (m Poller) PollRate() time.Duration {
	return time.Millisecond * time.Duration(m.pollRate)
}

// Read polls every register. A failed register reads 0xBEEF and the last
// error is returned alongside the values that did decode.
func (m Poller) Read(registers []Register) (map[string]float64, error) {
	err := m.handler.Connect()
	if err != nil {
		return nil, err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	readValues := make(map[string]float64)
	for _, register := range registers {
		resp, readErr := client.ReadHoldingRegisters(register.Address, sizeOf(register.DataType))
		if readErr != nil {
			readValues[register.Name] = 0xBEEF
			err = readErr
		} else {
			readValues[register.Name] = decode(resp, register)
		}
	}
	return readValues, err
}

// Write encodes each named value into its register.
func (m Poller) Write(registers []Register, writeValues map[string]float64) error {
	err := m.handler.Connect()
	if err != nil {
		return err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	for name, val := range writeValues {
		i, writeErr := findIndexByName(registers, name)
		if writeErr != nil {
			err = writeErr
			continue
		}
		valBytes := encode(val, registers[i])
		_, writeErr = client.WriteMultipleRegisters(registers[i].Address, sizeOf(registers[i].DataType), valBytes)
		if writeErr != nil {
			err = writeErr
		}
	}
	return err
}

// findIndexByName returns the position of the named register, -1 if absent.
func findIndexByName(registers []Register, name string) (int, error) {
	for index, register := range registers {
		if register.Name == name {
			return index, nil
		}
	}
	return -1, ErrRegisterNotFound
}

// encode converts a float64 into register bytes
func encode(val float64, register Register) []byte {
	var bytes []byte
	endian := getByteOrder(register.Endianness)
	switch register.DataType {
	case u16:
		bytes = make([]byte, 2*sizeOf(u16))
		endian.PutUint16(bytes, uint16(val))
	case i16:
		bytes = make([]byte, 2*sizeOf(i16))
		endian.PutUint16(bytes, uint16(int16(val)))
	case u32:
		bytes = make([]byte, 2*sizeOf(u32))
		endian.PutUint32(bytes, uint32(val))
	case i32:
		bytes = make([]byte, 2*sizeOf(i32))
		endian.PutUint32(bytes, uint32(int32(val)))
	case f32:
		bytes = make([]byte, 2*sizeOf(f32))
		endian.PutUint32(bytes, math.Float32bits(float32(val)))
	case u64:
		bytes = make([]byte, 2*sizeOf(u64))
		endian.PutUint64(bytes, uint64(val))
	case i64:
		bytes = make([]byte, 2*sizeOf(i64))
		endian.PutUint64(bytes, uint64(int64(val)))
	case f64:
		bytes = make([]byte, 2*sizeOf(f64))
		endian.PutUint64(bytes, math.Float64bits(val))
	}
	return bytes
}

// decode converts register bytes into a float64
func decode(bytes []byte, register Register) float64 {
	var n float64
	endian := getByteOrder(register.Endianness)
	switch register.DataType {
	case u16:
		n = float64(endian.Uint16(bytes))
	case i16:
		n = float64(int16(endian.Uint16(bytes)))
	case u32:
		n = float64(endian.Uint32(bytes))
	case i32:
		n = float64(int32(endian.Uint32(bytes)))
	case f32:
		n = float64(math.Float32frombits(endian.Uint32(bytes)))
	case u64:
		n = float64(endian.Uint64(bytes))
	case i64:
		n = float64(int64(endian.Uint64(bytes)))
	case f64:
		n = math.Float64frombits(endian.Uint64(bytes))
	}
	return n
}

// getByteOrder returns the binary.ByteOrder for the register endianness
func getByteOrder(e Endian) binary.ByteOrder {
	if e == littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// sizeOf returns the number of u16 registers for the datatype
func sizeOf(t DataType) uint16 {
	switch t {
	case u16, i16:
		return 1
	case u32, i32, f32:
		return 2
	case u64, i64, f64:
		return 4
	}
	return 0
}
