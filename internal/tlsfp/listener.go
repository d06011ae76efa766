package tlsfp

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// recordHeaderLen is the TLS record layer header: content type (1),
// protocol version (2), length (2).
const recordHeaderLen = 5

// handshakeHeaderLen is the handshake layer header inside a record:
// msg type (1), 24-bit length (3).
const handshakeHeaderLen = 4

const contentTypeHandshake = 0x16
const handshakeTypeClientHello = 0x01

// sniffingConn wraps an accepted net.Conn and mirrors every byte read
// during the TLS handshake into an internal buffer, up to maxCapture
// bytes, so the raw ClientHello can be recovered once the handshake
// completes and handed to Fingerprint.
type sniffingConn struct {
	net.Conn
	mu         sync.Mutex
	buf        bytes.Buffer
	maxCapture int
	done       bool
}

func (c *sniffingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.mu.Lock()
		if !c.done && c.buf.Len() < c.maxCapture {
			remaining := c.maxCapture - c.buf.Len()
			if remaining > n {
				remaining = n
			}
			c.buf.Write(p[:remaining])
		}
		c.mu.Unlock()
	}
	return n, err
}

func (c *sniffingConn) captured() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
	return append([]byte(nil), c.buf.Bytes()...)
}

// HelloCapturingListener wraps a raw net.Listener, terminating TLS itself
// on each accepted connection so the plaintext ClientHello can be
// recovered before handing the handshake-completed *tls.Conn on to
// net/http. Grounded on internal/sop/cert_generator.go's GetCertificate
// hook for the tls.Config shape, generalized to also capture the
// handshake's first flight for C2 fingerprinting.
type HelloCapturingListener struct {
	net.Listener
	tlsConfig  *tls.Config
	maxCapture int
}

// NewHelloCapturingListener wraps inner, terminating TLS with cfg on every
// accepted connection. maxCapture bounds how much of the handshake is kept
// for fingerprinting (see MaxClientHelloBytes).
func NewHelloCapturingListener(inner net.Listener, cfg *tls.Config, maxCapture int) *HelloCapturingListener {
	if maxCapture <= 0 {
		maxCapture = MaxClientHelloBytes
	}
	return &HelloCapturingListener{Listener: inner, tlsConfig: cfg, maxCapture: maxCapture}
}

// Accept blocks until a connection completes its TLS handshake, retrying
// on a per-connection handshake failure rather than propagating it (a
// single bad handshake must not take down the accept loop).
func (l *HelloCapturingListener) Accept() (net.Conn, error) {
	for {
		raw, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		sniff := &sniffingConn{Conn: raw, maxCapture: l.maxCapture}
		tlsConn := tls.Server(sniff, l.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			slog.Debug("tlsfp: handshake failed", "remote", raw.RemoteAddr(), "error", err)
			tlsConn.Close()
			continue
		}
		simplified, err := ExtractSimplifiedClientHello(sniff.captured())
		if err != nil {
			slog.Debug("tlsfp: failed to extract ClientHello for fingerprinting", "remote", raw.RemoteAddr(), "error", err)
			simplified = nil
		}
		return &helloConn{Conn: tlsConn, rawHello: simplified}, nil
	}
}

// helloConn is the net.Conn returned to net/http; it carries the
// simplified ClientHello buffer alongside the completed *tls.Conn so a
// http.Server.ConnContext hook can stash it in the request context.
type helloConn struct {
	net.Conn
	rawHello []byte
}

// RawClientHello returns the simplified wire-form buffer described in
// parseClientHello's doc comment, or nil if extraction failed.
func (c *helloConn) RawClientHello() []byte { return c.rawHello }

// RawClientHello reports the captured, simplified ClientHello for the
// given net.Conn if it was accepted through a HelloCapturingListener.
func RawClientHello(c net.Conn) ([]byte, bool) {
	hc, ok := c.(*helloConn)
	if !ok || hc.rawHello == nil {
		return nil, false
	}
	return hc.rawHello, true
}

// ExtractSimplifiedClientHello parses a real wire-format TLS record
// stream's leading ClientHello (record header + handshake header +
// ClientHello body) and re-encodes just the fields parseClientHello
// expects: version, cipher suites, extension types, supported groups,
// EC point formats, ALPN protocols, and SNI. Unrecognized extensions are
// skipped; any truncation yields ErrMalformedClientHello.
func ExtractSimplifiedClientHello(captured []byte) ([]byte, error) {
	if len(captured) < recordHeaderLen {
		return nil, fmt.Errorf("%w: captured stream too short for a record header", ErrMalformedClientHello)
	}
	if captured[0] != contentTypeHandshake {
		return nil, fmt.Errorf("%w: first record is not a handshake record", ErrMalformedClientHello)
	}
	recordLen := int(binary.BigEndian.Uint16(captured[3:5]))
	body := captured[recordHeaderLen:]
	if len(body) < recordLen {
		return nil, fmt.Errorf("%w: truncated handshake record", ErrMalformedClientHello)
	}
	body = body[:recordLen]

	if len(body) < handshakeHeaderLen {
		return nil, fmt.Errorf("%w: truncated handshake header", ErrMalformedClientHello)
	}
	if body[0] != handshakeTypeClientHello {
		return nil, fmt.Errorf("%w: first handshake message is not ClientHello", ErrMalformedClientHello)
	}
	hsLen := int(body[1])<<16 | int(body[2])<<8 | int(body[3])
	hello := body[handshakeHeaderLen:]
	if len(hello) < hsLen {
		return nil, fmt.Errorf("%w: truncated ClientHello body", ErrMalformedClientHello)
	}
	hello = hello[:hsLen]

	return reencodeClientHello(hello)
}

// reencodeClientHello walks a real ClientHello body (legacy_version,
// random, session_id, cipher_suites, compression_methods, extensions) and
// writes out the simplified fixed layout parseClientHello consumes.
func reencodeClientHello(hello []byte) ([]byte, error) {
	r := bytes.NewReader(hello)

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: missing legacy_version: %v", ErrMalformedClientHello, err)
	}
	if _, err := r.Seek(32, 1); err != nil {
		return nil, fmt.Errorf("%w: missing random: %v", ErrMalformedClientHello, err)
	}

	sessIDLen, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing session_id length: %v", ErrMalformedClientHello, err)
	}
	if _, err := r.Seek(int64(sessIDLen), 1); err != nil {
		return nil, fmt.Errorf("%w: truncated session_id: %v", ErrMalformedClientHello, err)
	}

	var cipherLen uint16
	if err := binary.Read(r, binary.BigEndian, &cipherLen); err != nil {
		return nil, fmt.Errorf("%w: missing cipher_suites length: %v", ErrMalformedClientHello, err)
	}
	ciphers := make([]uint16, 0, cipherLen/2)
	for i := 0; i < int(cipherLen)/2; i++ {
		var c uint16
		if err := binary.Read(r, binary.BigEndian, &c); err != nil {
			return nil, fmt.Errorf("%w: truncated cipher_suites: %v", ErrMalformedClientHello, err)
		}
		ciphers = append(ciphers, c)
	}

	compLen, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing compression_methods length: %v", ErrMalformedClientHello, err)
	}
	if _, err := r.Seek(int64(compLen), 1); err != nil {
		return nil, fmt.Errorf("%w: truncated compression_methods: %v", ErrMalformedClientHello, err)
	}

	var extTypes []uint16
	var groups []uint16
	var pointFormats []uint8
	var alpn []string
	var sni string

	if r.Len() > 0 {
		var extsLen uint16
		if err := binary.Read(r, binary.BigEndian, &extsLen); err != nil {
			return nil, fmt.Errorf("%w: missing extensions length: %v", ErrMalformedClientHello, err)
		}
		extsRaw := make([]byte, extsLen)
		if _, err := io.ReadFull(r, extsRaw); err != nil {
			return nil, fmt.Errorf("%w: truncated extensions block: %v", ErrMalformedClientHello, err)
		}
		er := bytes.NewReader(extsRaw)
		for er.Len() > 0 {
			var extType, extLen uint16
			if err := binary.Read(er, binary.BigEndian, &extType); err != nil {
				return nil, fmt.Errorf("%w: truncated extension header: %v", ErrMalformedClientHello, err)
			}
			if err := binary.Read(er, binary.BigEndian, &extLen); err != nil {
				return nil, fmt.Errorf("%w: truncated extension length: %v", ErrMalformedClientHello, err)
			}
			extBody := make([]byte, extLen)
			if _, err := io.ReadFull(er, extBody); err != nil {
				return nil, fmt.Errorf("%w: truncated extension body: %v", ErrMalformedClientHello, err)
			}
			extTypes = append(extTypes, extType)
			switch extType {
			case 0x000a: // supported_groups
				groups = parseU16List(extBody)
			case 0x000b: // ec_point_formats
				if len(extBody) > 1 {
					pointFormats = append([]uint8(nil), extBody[1:]...)
				}
			case 0x0010: // application_layer_protocol_negotiation
				alpn = parseALPNList(extBody)
			case 0x0000: // server_name
				sni = parseSNI(extBody)
			}
		}
	}

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, version)
	writeU16List(&out, ciphers)
	writeU16List(&out, extTypes)
	writeU16List(&out, groups)

	out.WriteByte(uint8(len(pointFormats)))
	out.Write(pointFormats)

	if len(alpn) > 255 {
		alpn = alpn[:255]
	}
	out.WriteByte(uint8(len(alpn)))
	for _, proto := range alpn {
		if len(proto) > 255 {
			proto = proto[:255]
		}
		out.WriteByte(uint8(len(proto)))
		out.WriteString(proto)
	}

	if len(sni) > maxSNILen {
		sni = sni[:maxSNILen]
	}
	out.WriteByte(uint8(len(sni)))
	out.WriteString(sni)

	return out.Bytes(), nil
}

func parseU16List(b []byte) []uint16 {
	out := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		out = append(out, binary.BigEndian.Uint16(b[i:i+2]))
	}
	return out
}

func parseALPNList(b []byte) []string {
	if len(b) < 2 {
		return nil
	}
	listLen := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if listLen < len(b) {
		b = b[:listLen]
	}
	var out []string
	for len(b) > 0 {
		l := int(b[0])
		b = b[1:]
		if l > len(b) {
			break
		}
		out = append(out, string(b[:l]))
		b = b[l:]
	}
	return out
}

func parseSNI(b []byte) string {
	if len(b) < 2 {
		return ""
	}
	listLen := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if listLen < len(b) {
		b = b[:listLen]
	}
	if len(b) < 3 || b[0] != 0x00 { // name_type host_name
		return ""
	}
	nameLen := int(binary.BigEndian.Uint16(b[1:3]))
	b = b[3:]
	if nameLen > len(b) {
		nameLen = len(b)
	}
	return string(b[:nameLen])
}

func writeU16List(out *bytes.Buffer, vals []uint16) {
	binary.Write(out, binary.BigEndian, uint16(len(vals)))
	for _, v := range vals {
		binary.Write(out, binary.BigEndian, v)
	}
}
