package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"mime"
	"mime/quotedprintable"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func plainMessage(id, subject, from, body string) string {
	var b strings.Builder
	if id != "" {
		b.WriteString("Message-ID: <" + id + ">\r\n")
	}
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("Subject: " + mime.BEncoding.Encode("UTF-8", subject) + "\r\n")
	b.WriteString("Date: Mon, 01 Apr 2024 09:30:00 +0900\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func TestParse_PlainUTF8(t *testing.T) {
	raw := plainMessage("abc@mail.example", "【SNAPJOB】新規応募がありました", "SNAPJOB <snapjob@roxx.co.jp>", "氏名：山田 太郎\r\n")

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "abc@mail.example", msg.ID)
	assert.Equal(t, "【SNAPJOB】新規応募がありました", msg.Subject)
	assert.Equal(t, "snapjob@roxx.co.jp", msg.From)
	assert.Contains(t, msg.Body, "氏名：山田 太郎")
	assert.True(t, msg.Date.Equal(time.Date(2024, 4, 1, 0, 30, 0, 0, time.UTC)))
}

func TestParse_QuotedPrintable(t *testing.T) {
	var qp bytes.Buffer
	w := quotedprintable.NewWriter(&qp)
	_, err := w.Write([]byte("お名前：佐藤 花子\r\nメール：hanako@example.com\r\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw := "From: info@jobseeker-navi.com\r\n" +
		"Subject: entry\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n\r\n" + qp.String()

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "佐藤 花子")
	assert.Contains(t, msg.Body, "hanako@example.com")
	assert.Empty(t, msg.ID)
	assert.True(t, msg.Date.IsZero())
}

func TestParse_ISO2022JP(t *testing.T) {
	encoded, err := japanese.ISO2022JP.NewEncoder().String("氏名：鈴木 一郎")
	require.NoError(t, err)

	raw := "From: a@careerindex.jp\r\n" +
		"Subject: =?ISO-2022-JP?B?" + base64.StdEncoding.EncodeToString([]byte(mustISO(t, "新規応募"))) + "?=\r\n" +
		"Content-Type: text/plain; charset=ISO-2022-JP\r\n" +
		"Content-Transfer-Encoding: 7bit\r\n\r\n" + encoded + "\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "新規応募", msg.Subject)
	assert.Contains(t, msg.Body, "氏名：鈴木 一郎")
}

func mustISO(t *testing.T, s string) string {
	t.Helper()
	out, err := japanese.ISO2022JP.NewEncoder().String(s)
	require.NoError(t, err)
	return out
}

func TestParse_MultipartPrefersPlain(t *testing.T) {
	html := base64.StdEncoding.EncodeToString([]byte("<p>氏名：HTML 太郎</p>"))
	raw := "From: snapjob@roxx.co.jp\r\n" +
		"Subject: test\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"XYZ\"\r\n\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\n" + html + "\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"氏名：PLAIN 太郎\r\n" +
		"--XYZ--\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "PLAIN 太郎")
	assert.NotContains(t, msg.Body, "HTML")
}

func TestParse_MultipartHTMLOnly(t *testing.T) {
	html := base64.StdEncoding.EncodeToString([]byte("<p>氏名：HTML 太郎</p>"))
	raw := "From: snapjob@roxx.co.jp\r\n" +
		"Subject: test\r\n" +
		"Content-Type: multipart/alternative; boundary=B\r\n\r\n" +
		"--B\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\n" + html + "\r\n" +
		"--B--\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "<p>氏名：HTML 太郎</p>", msg.Body)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse(strings.NewReader("not a message"))
	require.Error(t, err)
}

func TestDirSource_Groups(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "thread-b", "02.eml"), plainMessage("b2", "re", "x@example.com", "second"))
	writeFile(t, filepath.Join(root, "thread-b", "01.eml"), plainMessage("b1", "hi", "x@example.com", "first"))
	writeFile(t, filepath.Join(root, "thread-b", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, "thread-a", "01.EML"), plainMessage("", "hi", "y@example.com", "no id"))
	writeFile(t, filepath.Join(root, "single.eml"), plainMessage("s1", "hi", "z@example.com", "alone"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	groups, err := NewDirSource(root).Groups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, "single.eml", groups[0].ID)
	assert.Equal(t, "thread-a", groups[1].ID)
	assert.Equal(t, "thread-b", groups[2].ID)

	require.Len(t, groups[1].Messages, 1)
	assert.Equal(t, "thread-a/01.EML", groups[1].Messages[0].ID, "path fallback when Message-ID is absent")

	require.Len(t, groups[2].Messages, 2)
	assert.Equal(t, "b1", groups[2].Messages[0].ID)
	assert.Equal(t, "b2", groups[2].Messages[1].ID)
}

func TestDirSource_UnreadableMessageDoesNotFailSource(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "thread-a", "01.eml"), plainMessage("a1", "新規応募", "x@example.com", "氏名：山田"))
	writeFile(t, filepath.Join(root, "thread-a", "02.eml"),
		"Message-ID: <a2>\r\nFrom: x@example.com\r\nSubject: hi\r\n"+
			"Content-Type: text/plain; charset=x-unknown-jp\r\n\r\nbody")
	writeFile(t, filepath.Join(root, "broken.eml"), "not a message")

	groups, err := NewDirSource(root).Groups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "broken.eml", groups[0].ID)
	require.Len(t, groups[0].Messages, 1)
	assert.Equal(t, "broken.eml", groups[0].Messages[0].ID)
	assert.NotEmpty(t, groups[0].Messages[0].ReadError)

	require.Len(t, groups[1].Messages, 2)
	good, bad := groups[1].Messages[0], groups[1].Messages[1]
	assert.Equal(t, "a1", good.ID)
	assert.Empty(t, good.ReadError)
	assert.Equal(t, "氏名：山田", good.Body)
	assert.Equal(t, "thread-a/02.eml", bad.ID)
	assert.Contains(t, bad.ReadError, "x-unknown-jp")
}

func TestDirSource_MissingRoot(t *testing.T) {
	_, err := NewDirSource(filepath.Join(t.TempDir(), "nope")).Groups(context.Background())
	require.Error(t, err)
}

func TestJSONSource_Groups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	writeFile(t, path, `[
		{"id": "t1", "messages": [
			{"id": "m1", "subject": "新規応募", "from": "snapjob@roxx.co.jp", "body": "氏名：山田", "date": "2024-04-01T09:30:00+09:00"},
			{"id": "m2", "subject": "re", "from": "a@example.com", "body": "", "date": "2024-04-02T09:30:00+09:00"}
		]},
		{"id": "t2", "messages": []}
	]`)

	groups, err := NewJSONSource(path).Groups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Len(t, groups[0].Messages, 2)
	assert.Equal(t, "m1", groups[0].Messages[0].ID)
	assert.Equal(t, "snapjob@roxx.co.jp", groups[0].Messages[0].From)
	assert.Equal(t, 2024, groups[0].Messages[0].Date.Year())
	assert.Empty(t, groups[1].Messages)
}

func TestJSONSource_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewJSONSource(filepath.Join(dir, "missing.json")).Groups(context.Background())
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `{"not": "an array"}`)
	_, err = NewJSONSource(bad).Groups(context.Background())
	require.Error(t, err)

	noID := filepath.Join(dir, "noid.json")
	writeFile(t, noID, `[{"id": "t1", "messages": [{"subject": "x"}]}]`)
	_, err = NewJSONSource(noID).Groups(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id")
}

func TestStaticSource(t *testing.T) {
	src := StaticSource{{ID: "g1"}}
	groups, err := src.Groups(context.Background())
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}
