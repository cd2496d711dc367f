// Formatação dos números que aparecem nas mensagens de erro e nos logs.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatSeconds(d time.Duration) string {
	// sem notação científica para valores comuns
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
