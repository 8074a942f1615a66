package state

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Minimal RESP client used by the redis-backed stores. Connections are
// dialed per operation and closed on return; the stores hold no
// connection state between calls.

type redisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

func (c redisConfig) withDefaults() redisConfig {
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	return c
}

func redisConnect(ctx context.Context, cfg redisConfig) (net.Conn, *bufio.ReadWriter, error) {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, nil, err
	}
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	if cfg.Password != "" {
		if err := writeRESP(rw, "AUTH", cfg.Password); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		if _, err := readRESP(rw); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
	}
	if cfg.DB > 0 {
		if err := writeRESP(rw, "SELECT", strconv.Itoa(cfg.DB)); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		if _, err := readRESP(rw); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
	}
	return conn, rw, nil
}

func writeRESP(rw *bufio.ReadWriter, parts ...string) error {
	if _, err := fmt.Fprintf(rw, "*%d\r\n", len(parts)); err != nil {
		return err
	}
	for _, p := range parts {
		if _, err := fmt.Fprintf(rw, "$%d\r\n%s\r\n", len(p), p); err != nil {
			return err
		}
	}
	return rw.Flush()
}

func readRESP(rw *bufio.ReadWriter) (any, error) {
	prefix, err := rw.ReadByte()
	if err != nil {
		return nil, err
	}
	line, err := rw.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

	switch prefix {
	case '+', ':':
		return line, nil
	case '-':
		return nil, fmt.Errorf("redis error: %s", line)
	case '$':
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			return nil, nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(rw, buf); err != nil {
			return nil, err
		}
		return string(buf[:n]), nil
	case '*':
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if n == -1 {
			return nil, nil
		}
		arr := make([]string, 0, n)
		for i := 0; i < n; i++ {
			v, err := readRESP(rw)
			if err != nil {
				return nil, err
			}
			if v == nil {
				arr = append(arr, "")
				continue
			}
			s, ok := v.(string)
			if !ok {
				return nil, errors.New("unexpected redis array element")
			}
			arr = append(arr, s)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported redis response prefix %q", prefix)
	}
}

func toStringArray(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]string)
	if !ok {
		return nil, errors.New("unexpected redis array response type")
	}
	return arr, nil
}

func respInt(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected redis integer response")
	}
	return strconv.ParseInt(s, 10, 64)
}

func respString(v any) (string, bool, error) {
	if v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, errors.New("unexpected redis payload type")
	}
	return s, true, nil
}
