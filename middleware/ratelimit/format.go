package ratelimit

import "strconv"

// formatInt formata segundos para o header Retry-After.
func formatInt(v int) string { return strconv.Itoa(v) }
