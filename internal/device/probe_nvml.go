//go:build nvml

package device

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef int nvmlReturn_t;
typedef void* nvmlDevice_t;

static void* nvml_lib = NULL;

typedef nvmlReturn_t (*nvmlInit_t)(void);
typedef nvmlReturn_t (*nvmlShutdown_t)(void);
typedef nvmlReturn_t (*nvmlDeviceGetCount_t)(unsigned int*);
typedef nvmlReturn_t (*nvmlDeviceGetHandleByIndex_t)(unsigned int, nvmlDevice_t*);
typedef nvmlReturn_t (*nvmlDeviceGetName_t)(nvmlDevice_t, char*, unsigned int);

static nvmlInit_t f_init = NULL;
static nvmlShutdown_t f_shutdown = NULL;
static nvmlDeviceGetCount_t f_count = NULL;
static nvmlDeviceGetHandleByIndex_t f_handle = NULL;
static nvmlDeviceGetName_t f_name = NULL;

static int nvml_open() {
    nvml_lib = dlopen("libnvidia-ml.so.1", RTLD_LAZY);
    if (!nvml_lib) nvml_lib = dlopen("libnvidia-ml.so", RTLD_LAZY);
    if (!nvml_lib) return -1;

    f_init = (nvmlInit_t)dlsym(nvml_lib, "nvmlInit_v2");
    if (!f_init) f_init = (nvmlInit_t)dlsym(nvml_lib, "nvmlInit");
    f_shutdown = (nvmlShutdown_t)dlsym(nvml_lib, "nvmlShutdown");
    f_count = (nvmlDeviceGetCount_t)dlsym(nvml_lib, "nvmlDeviceGetCount_v2");
    if (!f_count) f_count = (nvmlDeviceGetCount_t)dlsym(nvml_lib, "nvmlDeviceGetCount");
    f_handle = (nvmlDeviceGetHandleByIndex_t)dlsym(nvml_lib, "nvmlDeviceGetHandleByIndex_v2");
    if (!f_handle) f_handle = (nvmlDeviceGetHandleByIndex_t)dlsym(nvml_lib, "nvmlDeviceGetHandleByIndex");
    f_name = (nvmlDeviceGetName_t)dlsym(nvml_lib, "nvmlDeviceGetName");

    if (!f_init || !f_count) {
        dlclose(nvml_lib);
        nvml_lib = NULL;
        return -2;
    }
    int rc = f_init();
    if (rc != 0) {
        dlclose(nvml_lib);
        nvml_lib = NULL;
    }
    return rc;
}

static int nvml_count() {
    unsigned int count = 0;
    if (f_count && f_count(&count) != 0) return -1;
    return (int)count;
}

static int nvml_name(int idx, char* name, int len) {
    nvmlDevice_t dev;
    if (!f_handle || !f_name) return -1;
    if (f_handle(idx, &dev) != 0) return -2;
    return f_name(dev, name, len);
}

static void nvml_close() {
    if (f_shutdown) f_shutdown();
    if (nvml_lib) dlclose(nvml_lib);
    nvml_lib = NULL;
}
*/
import "C"

import (
	"fmt"
	"os"
)

// NVMLProber asks the NVIDIA Management Library for the device count,
// loading it via dlopen so there is no link-time dependency. The count is
// capped by CUDA_VISIBLE_DEVICES.
type NVMLProber struct {
	Lookup func(key string) (string, bool)
	// Names is filled with the device names seen by the last Count call.
	Names []string
}

// DefaultProber returns the NVML prober (nvml build).
func DefaultProber() Prober {
	return &NVMLProber{Lookup: os.LookupEnv}
}

func (p *NVMLProber) Name() string { return "nvml" }

// Count returns the number of GPUs. An unloadable library is reported as an
// error; the resolver treats that as zero accelerators.
func (p *NVMLProber) Count() (int, error) {
	visible, limited := visibleDevices(p.Lookup)
	if limited && visible == 0 {
		return 0, nil
	}
	if rc := C.nvml_open(); rc != 0 {
		return 0, fmt.Errorf("NVML not available (code %d)", rc)
	}
	defer C.nvml_close()

	n := int(C.nvml_count())
	if n < 0 {
		return 0, fmt.Errorf("nvmlDeviceGetCount failed")
	}

	p.Names = p.Names[:0]
	for i := 0; i < n; i++ {
		var name [256]C.char
		if C.nvml_name(C.int(i), &name[0], 256) == 0 {
			p.Names = append(p.Names, C.GoString(&name[0]))
		}
	}
	return capVisible(n, visible, limited), nil
}
