package mailbox

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/candidate-intake/internal/model"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(input), nil
}

// Parse reads one RFC 5322 message. The body is the text/plain part when
// present, otherwise the text/html part, decoded to UTF-8. ID is the
// Message-ID without angle brackets and may be empty.
func Parse(r io.Reader) (*model.Message, error) {
	m, err := mail.ReadMessage(r)
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: read message")
	}

	out := &model.Message{
		ID:      strings.Trim(strings.TrimSpace(m.Header.Get("Message-Id")), "<>"),
		Subject: decodeHeader(m.Header.Get("Subject")),
		From:    decodeHeader(m.Header.Get("From")),
	}
	if addr, err := addressParser.Parse(m.Header.Get("From")); err == nil {
		out.From = addr.Address
	}
	if d, err := m.Header.Date(); err == nil {
		out.Date = d
	}

	body, err := readBody(m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Body)
	if err != nil {
		return nil, err
	}
	out.Body = body
	return out, nil
}

var addressParser = &mail.AddressParser{WordDecoder: wordDecoder}

func decodeHeader(v string) string {
	dec, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return dec
}

func readBody(contentType, transferEncoding string, r io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return readMultipart(params["boundary"], r)
	}

	data, err := io.ReadAll(transferDecoder(transferEncoding, r))
	if err != nil {
		return "", eris.Wrap(err, "mailbox: read body")
	}
	return decodeCharset(params["charset"], data)
}

func readMultipart(boundary string, r io.Reader) (string, error) {
	if boundary == "" {
		return "", eris.New("mailbox: multipart without boundary")
	}
	mr := multipart.NewReader(r, boundary)
	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "mailbox: next part")
		}
		ct := part.Header.Get("Content-Type")
		mediaType, _, _ := mime.ParseMediaType(ct)
		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			nested, err := readBody(ct, "", part)
			if err != nil {
				return "", err
			}
			if plain == "" {
				plain = nested
			}
		case mediaType == "text/plain" && plain == "":
			plain, err = readBody(ct, partEncoding(part), part)
			if err != nil {
				return "", err
			}
		case mediaType == "text/html" && html == "":
			html, err = readBody(ct, partEncoding(part), part)
			if err != nil {
				return "", err
			}
		}
	}
	if plain != "" {
		return plain, nil
	}
	return html, nil
}

// partEncoding returns the transfer encoding still to be applied. The
// multipart reader already decodes quoted-printable and drops the header.
func partEncoding(p *multipart.Part) string {
	return p.Header.Get("Content-Transfer-Encoding")
}

func transferDecoder(enc string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}

func decodeCharset(charset string, data []byte) (string, error) {
	charset = strings.TrimSpace(charset)
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "us-ascii") {
		return string(data), nil
	}
	rd, err := charsetReader(charset, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(rd)
	if err != nil {
		return "", eris.Wrapf(err, "mailbox: decode %s", charset)
	}
	return string(out), nil
}
