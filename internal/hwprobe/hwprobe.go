// Package hwprobe detects available recognition hardware (GPU vendor,
// if any) and maps the result to the device/precision labels the
// engine needs when loading a model.
package hwprobe

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const probeTimeout = 5 * time.Second

// GPUType is the detected accelerator vendor, or "" if none is usable.
type GPUType string

const (
	GPUNone         GPUType = ""
	GPUNvidia       GPUType = "nvidia"
	GPUAppleSilicon GPUType = "apple_silicon"
	GPUAMD          GPUType = "amd"
	GPUDirectML     GPUType = "directml"
)

var (
	once      sync.Once
	cachedGPU GPUType
)

// DetectGPU returns the detected GPU vendor, caching the result for
// the lifetime of the process (hardware doesn't change mid-run).
func DetectGPU() GPUType {
	once.Do(func() {
		cachedGPU = detect()
	})
	return cachedGPU
}

func detect() GPUType {
	if checkNvidia() {
		return GPUNvidia
	}
	switch runtime.GOOS {
	case "darwin":
		if checkAppleSilicon() {
			return GPUAppleSilicon
		}
	case "linux":
		if checkAMD() {
			return GPUAMD
		}
	case "windows":
		if checkDirectML() {
			return GPUDirectML
		}
	}
	return GPUNone
}

func runProbe(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

func checkNvidia() bool {
	out, err := runProbe("nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	return err == nil && strings.TrimSpace(out) != ""
}

func checkAppleSilicon() bool {
	out, err := runProbe("sysctl", "-n", "machdep.cpu.brand_string")
	if err != nil {
		return false
	}
	brand := strings.ToLower(out)
	if !strings.Contains(brand, "apple") {
		return false
	}
	for _, gen := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9"} {
		if strings.Contains(brand, gen) {
			return true
		}
	}
	return false
}

func checkAMD() bool {
	_, err := runProbe("rocm-smi", "--showid")
	return err == nil
}

func checkDirectML() bool {
	out, err := runProbe("cmd", "/c", "ver")
	if err != nil {
		return false
	}
	for _, field := range strings.Fields(out) {
		if build, convErr := strconv.Atoi(strings.Trim(field, ".")); convErr == nil && build >= 18362 {
			return true
		}
	}
	return false
}

// Device returns the recognition device label ("cuda" or "cpu").
func Device(enableGPU bool) string {
	if enableGPU && DetectGPU() == GPUNvidia {
		return "cuda"
	}
	return "cpu"
}

// ComputeType returns the recognition precision label. Apple Silicon
// runs CTranslate2 on CPU, so it stays at int8 even with a GPU detected.
func ComputeType(enableGPU bool) string {
	if !enableGPU {
		return "int8"
	}
	switch DetectGPU() {
	case GPUNvidia, GPUAMD, GPUDirectML:
		return "float16"
	default:
		return "int8"
	}
}
