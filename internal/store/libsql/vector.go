package libsql

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"strings"
)

// vectorToString converts a float32 array to libSQL vector string format.
func (s *Store) vectorToString(numbers []float32) (string, error) {
	dims := s.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	if len(numbers) != dims {
		return "", fmt.Errorf("vector must have exactly %d dimensions, got %d", dims, len(numbers))
	}

	// Non-finite values are stored as zero rather than poisoning the index.
	strNumbers := make([]string, len(numbers))
	for i, n := range numbers {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			log.Printf("Warning: invalid vector value detected, using 0.0 instead of: %f", n)
			strNumbers[i] = "0.000000"
			continue
		}
		strNumbers[i] = fmt.Sprintf("%f", n)
	}
	return fmt.Sprintf("[%s]", strings.Join(strNumbers, ", ")), nil
}

// extractVector decodes the binary F32_BLOB column format.
func (s *Store) extractVector(embedding []byte) ([]float32, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	dims := s.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	expectedBytes := dims * 4
	if len(embedding) != expectedBytes {
		return nil, fmt.Errorf("invalid embedding size: expected %d bytes for %d-dimensional vector, got %d", expectedBytes, dims, len(embedding))
	}

	vector := make([]float32, dims)
	for i := 0; i < dims; i++ {
		bits := binary.LittleEndian.Uint32(embedding[i*4 : (i+1)*4])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}
