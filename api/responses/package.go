// Package responses writes wallet API bodies. Errors follow RFC 7807 Problem Details.
package responses
