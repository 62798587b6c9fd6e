package cpim

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sent := time.Date(2024, 3, 9, 17, 4, 5, 123_000_000, time.UTC)
	for _, mode := range []IMDNMode{IMDNNone, IMDNDelivery, IMDNDeliveryDisplay} {
		t.Run(mode.String(), func(t *testing.T) {
			raw := Encode(Envelope{
				From:        "<tel:+33612345678>",
				To:          "<sip:anonymous@anonymous.invalid>",
				MessageID:   "Msg-1",
				ContentType: "text/plain",
				Content:     "héllo\r\nworld",
				Sent:        sent,
				Mode:        mode,
			})

			msg, err := Decode([]byte(raw))
			require.NoError(t, err)
			assert.True(t, msg.Enveloped)
			assert.Equal(t, "<tel:+33612345678>", msg.From())
			assert.Equal(t, "<sip:anonymous@anonymous.invalid>", msg.To())
			assert.Equal(t, "héllo\r\nworld", msg.Content)
			assert.Equal(t, "text/plain", msg.ContentType)
			require.True(t, msg.HasDateTime)
			assert.True(t, sent.Equal(msg.DateTime))
			if mode == IMDNNone {
				assert.Empty(t, msg.MessageID())
				assert.False(t, msg.WantsDelivery())
			} else {
				assert.Equal(t, "Msg-1", msg.MessageID())
				assert.True(t, msg.WantsDelivery())
				assert.Equal(t, mode == IMDNDeliveryDisplay, msg.WantsDisplay())
				assert.Equal(t, "13", msg.ContentHeader(HeaderContentLen))
			}
		})
	}
}

func TestEncodeHeaderOrder(t *testing.T) {
	raw := Encode(Envelope{
		From:        "tel:+33612345678",
		To:          "tel:+33687654321",
		MessageID:   "abc",
		ContentType: "text/plain",
		Content:     "hi",
		Sent:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Mode:        IMDNDeliveryDisplay,
	})
	want := "From: <tel:+33612345678>\r\n" +
		"To: <tel:+33687654321>\r\n" +
		"NS: imdn <urn:ietf:params:imdn>\r\n" +
		"imdn.Message-ID: abc\r\n" +
		"DateTime: 2024-01-02T03:04:05.000Z\r\n" +
		"imdn.Disposition-Notification: positive-delivery, display\r\n" +
		"\r\n" +
		"Content-Type: text/plain;charset=utf-8\r\n" +
		"Content-Length: 2\r\n" +
		"\r\n" +
		"hi"
	assert.Equal(t, want, raw)
}

func TestEncodeDeliveryReport(t *testing.T) {
	raw := EncodeDeliveryReport("tel:+1555000111", "tel:+1555000222", "r1", "<imdn/>", time.Unix(0, 0))
	msg, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "message/imdn+xml", msg.ContentType)
	assert.Equal(t, "notification", msg.ContentHeader(HeaderContentDispo))
	assert.Equal(t, "<imdn/>", msg.Content)
	assert.Equal(t, "r1", msg.MessageID())
}

func TestDecodeLegacyPlainText(t *testing.T) {
	msg, err := Decode([]byte("just some words"))
	require.NoError(t, err)
	assert.False(t, msg.Enveloped)
	assert.False(t, msg.HasDateTime)
	assert.Equal(t, "text/plain", msg.ContentType)
	assert.Equal(t, "just some words", msg.Content)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte("From: <tel:+1555000111>\r\nTo: <tel:+1555000222>"))
	assert.ErrorIs(t, err, ErrParse)

	_, err = Decode([]byte("From: <tel:+1555000111>\r\nbogus line\r\n\r\nContent-Type: text/plain\r\n\r\nx"))
	assert.ErrorIs(t, err, ErrParse)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrParse)
}

func TestDecodeLFOnly(t *testing.T) {
	raw := strings.ReplaceAll(Encode(Envelope{From: "tel:+1555000111", To: "tel:+1555000222", ContentType: "text/plain", Content: "x"}), "\r\n", "\n")
	msg, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "x", msg.Content)
}

func TestFormatAddress(t *testing.T) {
	tests := map[string]string{
		"<sip:alice@example.org>":      "<sip:alice@example.org>",
		`"Alice" <sip:alice@example.org>`: `"Alice" <sip:alice@example.org>`,
		"sip:alice@example.org":        "<sip:alice@example.org>",
		"tel:+33612345678":             "<tel:+33612345678>",
		" +33612345678 ":               "<tel:+33612345678>",
		"not a number":                 "<not a number>",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatAddress(in), in)
	}
}

func TestParseDateTimeOffsets(t *testing.T) {
	got, err := ParseDateTime("2024-01-02T05:04:05+02:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	_, err = ParseDateTime("yesterday")
	assert.Error(t, err)
}
