package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a commented starter file for kind in TOML.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	case KindSerial:
		return serialTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `name = "link-server"
mode = "server"
framing = "framed"
host = "0.0.0.0"
port = 9000

request_timeout_ms = 1500
idle_timeout_ms = 0
accept_backoff_initial_ms = 1000
accept_backoff_max_ms = 30000
write_queue_limit = 1024
backpressure_threshold = 1048576
max_packet_bytes = 65535

bind_retry = false
max_bind_retries = 3
bind_retry_interval_ms = 1000
`

const clientTemplate = `name = "link-client"
mode = "client"
framing = "framed"
host = "127.0.0.1"
port = 9000

request_timeout_ms = 1500
connect_timeout_ms = 5000
reconnect_backoff_initial_ms = 1000
reconnect_backoff_max_ms = 30000
# -1 retries forever
max_retries = -1
write_queue_limit = 1024
max_packet_bytes = 65535
`

const serialTemplate = `name = "link-serial"
mode = "serial"
framing = "raw"
reconnect_backoff_max_ms = 30000
max_retries = -1

[serial]
device = "/dev/ttyUSB0"
baud_rate = 115200
char_size = 8
parity = "none"
stop_bits = 1
flow_control = "none"
read_chunk_size = 4096
reopen_on_error = true
retry_interval_ms = 2000
`
