package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/vsched"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// resultError converts a Vulkan result into an error carrying the matching vsched sentinel. Results
// that are not errors convert to nil.
func resultError(res common.VkResult, err error, format string, args ...interface{}) error {
	var sentinel error
	switch res {
	case core1_0.VKErrorDeviceLost:
		sentinel = vsched.ErrDeviceLost
	case core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfDeviceMemory:
		sentinel = vsched.ErrOutOfMemory
	case core1_0.VKTimeout:
		sentinel = vsched.ErrTimeout
	}

	if err == nil && sentinel == nil {
		return nil
	}

	var wrapped error
	if err != nil {
		wrapped = errors.Wrapf(err, format, args...)
	} else {
		wrapped = errors.Newf(format+": %s", append(args, res.String())...)
	}

	if sentinel != nil {
		return errors.Mark(wrapped, sentinel)
	}
	return wrapped
}
