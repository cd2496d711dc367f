package lifecycle

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// MemoryProbe informa o uso de memória observado, em bytes.
type MemoryProbe interface {
	Usage() (uint64, error)
}

type MemoryProbeFunc func() (uint64, error)

func (f MemoryProbeFunc) Usage() (uint64, error) { return f() }

// ProcessMemoryProbe lê o RSS do próprio processo.
type ProcessMemoryProbe struct {
	proc *process.Process
}

func NewProcessMemoryProbe() (*ProcessMemoryProbe, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	return &ProcessMemoryProbe{proc: p}, nil
}

func (p *ProcessMemoryProbe) Usage() (uint64, error) {
	info, err := p.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	return info.RSS, nil
}
