package obs

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds one zerolog.Logger per process, tagged with the service
// name and deployment environment the way a production Altify process
// would want them on every line.
func NewLogger(service, environment, format string) zerolog.Logger {
	var writer = os.Stderr
	base := zerolog.New(writer).With().Timestamp()
	if strings.EqualFold(format, "console") {
		base = zerolog.New(zerolog.ConsoleWriter{Out: writer}).With().Timestamp()
	}
	return base.
		Str("service", service).
		Str("env", environment).
		Logger()
}
