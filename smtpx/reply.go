package smtpx

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// reply is one full SMTP server reply, possibly spanning several lines.
type reply struct {
	code int
	text string
	raw  string
}

func (r reply) positive() bool {
	return r.code >= 200 && r.code < 300
}

func (r reply) permanent() bool {
	return r.code >= 500 && r.code < 600
}

func (r reply) temporary() bool {
	return r.code >= 400 && r.code < 500
}

// prefix returns the first n bytes of the raw reply, for reporting
// unparseable responses without dumping the whole banner.
func (r reply) prefix(n int) string {
	raw := strings.TrimSpace(r.raw)
	if len(raw) > n {
		return raw[:n]
	}
	return raw
}

// readReply consumes exactly one reply from the wire. Multiline replies use a
// dash after the code ("250-...") on every line but the last ("250 ..."), and
// the reader must not return until the final line has arrived in full. A
// fragmented line is completed by the underlying bufio reader, so a partial
// read never yields a reply.
func readReply(r *bufio.Reader) (reply, error) {
	var raw strings.Builder
	var texts []string
	var code int

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return reply{}, err
		}
		raw.WriteString(line)

		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return reply{code: 0, raw: raw.String()}, nil
		}

		c, err := strconv.Atoi(line[:3])
		if err != nil {
			return reply{code: 0, raw: raw.String()}, nil
		}
		if code == 0 {
			code = c
		}
		if c != code {
			// code changed mid reply, treat as unparseable
			return reply{code: 0, raw: raw.String()}, nil
		}

		if len(line) > 3 {
			texts = append(texts, strings.TrimSpace(line[4:]))
		}

		if len(line) == 3 || line[3] == ' ' {
			return reply{code: code, text: strings.Join(texts, " "), raw: raw.String()}, nil
		}
		if line[3] != '-' {
			return reply{code: 0, raw: raw.String()}, nil
		}
	}
}

func writeLine(w *bufio.Writer, format string, args ...interface{}) error {
	_, err := fmt.Fprintf(w, format+"\r\n", args...)
	if err != nil {
		return err
	}
	return w.Flush()
}
