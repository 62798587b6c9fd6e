package imdn

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRootElement(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	displayed := Build("m1", StatusDisplayed, ts)
	assert.Contains(t, displayed, "<display-notification><status><displayed/></status></display-notification>")

	delivered := Build("m1", StatusDelivered, ts)
	assert.Contains(t, delivered, "<delivery-notification><status><delivered/></status></delivery-notification>")

	processed := Build("m1", StatusProcessed, ts)
	assert.Contains(t, processed, "<processing-notification>")
}

func TestBuildExactDocument(t *testing.T) {
	got := Build("a&b", StatusDelivered, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	want := "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\r\n" +
		"<imdn xmlns=\"urn:ietf:params:xml:ns:imdn\">\r\n" +
		"<message-id>a&amp;b</message-id>\r\n" +
		"<datetime>2024-05-01T10:00:00.000Z</datetime>\r\n" +
		"<delivery-notification><status><delivered/></status></delivery-notification>\r\n" +
		"</imdn>"
	assert.Equal(t, want, got)
}

func TestParseRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, s := range []Status{StatusDelivered, StatusDisplayed, StatusFailed, StatusProcessed} {
		r, err := Parse([]byte(Build("msg-42", s, ts)))
		require.NoError(t, err)
		assert.Equal(t, "msg-42", r.MessageID)
		assert.Equal(t, s, r.Status)
		assert.Equal(t, NotificationFor(s), r.Notification)
		assert.True(t, ts.Equal(r.DateTime))
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"not xml":       "hello",
		"no namespace":  "<imdn><message-id>x</message-id><delivery-notification><status><delivered/></status></delivery-notification></imdn>",
		"wrong root":    `<foo xmlns="urn:ietf:params:xml:ns:imdn"/>`,
		"no status":     `<imdn xmlns="urn:ietf:params:xml:ns:imdn"><message-id>x</message-id></imdn>`,
		"truncated doc": strings.TrimSuffix(Build("x", StatusDelivered, time.Now()), "</imdn>"),
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, ErrParse, name)
	}
}
