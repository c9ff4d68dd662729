//go:build !debug_vsched

package utils

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_vsched build tag is present
func DebugValidate(validatable Validatable) {
}
