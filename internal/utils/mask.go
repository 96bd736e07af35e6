package utils

// MaskSecret keeps the first four characters of a credential for log lines.
// An unset secret stays empty so logs show it is missing.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "*****"
	default:
		return s[:4] + "*****"
	}
}
