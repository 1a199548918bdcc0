package telemetry

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured returns a Client configured from flags.
func Configured() *Client {
	baseURL := lflag.String("telemetry-base-url", "http://localhost:3000", "Base URL of the energy telemetry service")
	timeout := lflag.Duration("telemetry-request-timeout", DefaultRequestTimeout, "Timeout for a single poll or control request")

	c := New("", DefaultRequestTimeout)
	lflag.Do(func() {
		c.baseURL = *baseURL
		if *timeout > 0 {
			c.requestTimeout = *timeout
		}
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("telemetry validation failed: %v", err))
		}
	})
	return c
}
