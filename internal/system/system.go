// Package system sizes worker pools to the host and checks for the external
// tools the pipeline shells out to.
package system

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// InitResourceLimits raises the open file limit; parallel chunk workers
// each hold several temporary streams open.
func InitResourceLimits() {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logrus.Warnf("[!] Cannot read open file limit: %v", err)
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logrus.Warnf("[!] Cannot raise open file limit: %v", err)
		return
	}
	logrus.Debugf("[*] Open file limit raised to %d", rLimit.Cur)
}

// DefaultWorkers picks a worker count from logical CPUs, capped so that
// perWorkerBytes times the count fits into available memory.
// A perWorkerBytes of zero disables the memory cap.
func DefaultWorkers(perWorkerBytes uint64) int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}

	if perWorkerBytes > 0 {
		if vm, err := mem.VirtualMemory(); err == nil {
			byMem := int(vm.Available / perWorkerBytes)
			if byMem < 1 {
				byMem = 1
			}
			if byMem < n {
				logrus.WithFields(logrus.Fields{
					"cpus":      n,
					"available": vm.Available,
				}).Debugf("[*] Worker count limited by memory to %d", byMem)
				n = byMem
			}
		}
	}
	return n
}

// FrameBytes estimates the memory one 8-bit RGBA frame of the given size
// occupies.
func FrameBytes(width, height int) uint64 {
	return uint64(width) * uint64(height) * 4
}

// RequireTools fails if any of the named binaries is missing from PATH.
func RequireTools(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("required tool %s not found: %w", name, err)
		}
	}
	return nil
}

var (
	encoderOnce sync.Once
	encoder     string
)

// BestH264Encoder prefers a hardware H.264 encoder when ffmpeg has one.
// The encoder list is read once per process.
func BestH264Encoder() string {
	encoderOnce.Do(func() {
		encoder = "libx264"
		out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
		if err != nil {
			return
		}
		for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
			if strings.Contains(string(out), name) {
				encoder = name
				return
			}
		}
	})
	return encoder
}

// HasFFmpegFilter reports whether the local ffmpeg build ships filter name.
func HasFFmpegFilter(name string) bool {
	out, err := exec.Command("ffmpeg", "-hide_banner", "-filters").CombinedOutput()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}
