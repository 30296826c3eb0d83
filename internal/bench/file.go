package bench

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// WriteFile stores data as little-endian int32 values, truncating path.
func WriteFile(path string, data []int32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create input file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write input file: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write input file: %w", err)
	}
	return f.Close()
}

// ReadFile loads a file written by WriteFile.
func ReadFile(path string) ([]int32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("input file %s: size %d is not a multiple of 4", path, len(raw))
	}

	data := make([]int32, len(raw)/4)
	for i := range data {
		data[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return data, nil
}
