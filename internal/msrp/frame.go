package msrp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	flagComplete = '$'
	flagMore     = '+'
	flagAbort    = '#'

	maxBodySize = 1 << 20
)

var errMalformed = errors.New("msrp: malformed frame")

// frame is one MSRP request or response.
type frame struct {
	tid     string
	method  string
	status  int
	comment string
	headers map[string]string
	body    []byte
	flag    byte
}

func (f *frame) isResponse() bool { return f.method == "" }

func (f *frame) header(name string) string { return f.headers[strings.ToLower(name)] }

func endLine(tid string, flag byte) string {
	return "-------" + tid + string(flag) + "\r\n"
}

type sendFrame struct {
	tid, toPath, fromPath, msgID, mimeType string
	start, end, total                      int
	body                                   []byte
	flag                                   byte
}

func (s sendFrame) encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "MSRP %s SEND\r\n", s.tid)
	fmt.Fprintf(&b, "To-Path: %s\r\n", s.toPath)
	fmt.Fprintf(&b, "From-Path: %s\r\n", s.fromPath)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", s.msgID)
	if len(s.body) == 0 {
		b.WriteString("Byte-Range: 1-0/0\r\n")
		b.WriteString(endLine(s.tid, flagComplete))
		return b.Bytes()
	}
	fmt.Fprintf(&b, "Byte-Range: %d-%d/%d\r\n", s.start, s.end, s.total)
	fmt.Fprintf(&b, "Content-Type: %s\r\n\r\n", s.mimeType)
	b.Write(s.body)
	b.WriteString("\r\n")
	b.WriteString(endLine(s.tid, s.flag))
	return b.Bytes()
}

func encodeResponse(tid string, status int, comment, toPath, fromPath string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "MSRP %s %03d %s\r\n", tid, status, comment)
	fmt.Fprintf(&b, "To-Path: %s\r\n", toPath)
	fmt.Fprintf(&b, "From-Path: %s\r\n", fromPath)
	b.WriteString(endLine(tid, flagComplete))
	return b.Bytes()
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readFrame(r *bufio.Reader) (*frame, error) {
	start, err := readLine(r)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(start, " ", 4)
	if len(parts) < 3 || parts[0] != "MSRP" {
		return nil, fmt.Errorf("%w: start line %q", errMalformed, start)
	}
	f := &frame{tid: parts[1], headers: make(map[string]string)}
	if code, err := strconv.Atoi(parts[2]); err == nil && len(parts[2]) == 3 {
		f.status = code
		if len(parts) == 4 {
			f.comment = parts[3]
		}
	} else {
		f.method = parts[2]
	}

	end := "-------" + f.tid
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(line, end) && len(line) == len(end)+1 {
			f.flag = line[len(line)-1]
			return f, nil
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header %q", errMalformed, line)
		}
		f.headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	marker := []byte("\r\n" + end)
	var body bytes.Buffer
	for {
		c, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		body.WriteByte(c)
		if body.Len() > maxBodySize+len(marker) {
			return nil, fmt.Errorf("%w: body too large", errMalformed)
		}
		if bytes.HasSuffix(body.Bytes(), marker) {
			break
		}
	}
	flag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if _, err := readLine(r); err != nil {
		return nil, err
	}
	f.flag = flag
	f.body = body.Bytes()[:body.Len()-len(marker)]
	return f, nil
}
