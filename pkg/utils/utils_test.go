package utils

import (
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+55 (11) 98765-4321", "5511987654321"},
		{"5511987654321@s.whatsapp.net", "5511987654321"},
		{"  11 9 8765 4321 ", "11987654321"},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestValidPhone(t *testing.T) {
	assert.True(t, ValidPhone("5511987654321"))
	assert.True(t, ValidPhone("12345678"))
	assert.False(t, ValidPhone("1234567"))
	assert.False(t, ValidPhone("1234567890123456"))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "5511*******21", MaskPhone("5511987654321"))
	assert.Equal(t, "*****", MaskPhone("12345"))
}

func TestByteCountSI(t *testing.T) {
	assert.Equal(t, "999 B", ByteCountSI(999))
	assert.Equal(t, "1.5 kB", ByteCountSI(1500))
	assert.Equal(t, "2.0 MB", ByteCountSI(2_000_000))
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSONObject("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, ExtractJSONObject(`Sure! {"a":{"b":2}} hope it helps`))
	assert.Equal(t, "", ExtractJSONObject("no json here"))
	assert.Equal(t, "", ExtractJSONObject("} {"))
}

func TestMustMarshalJSON(t *testing.T) {
	assert.Equal(t, `{"k":"v"}`, string(MustMarshalJSON(map[string]string{"k": "v"})))
	assert.Panics(t, func() { MustMarshalJSON(make(chan int)) })
}

func TestTimeHelpers(t *testing.T) {
	assert.True(t, UnixToTime(0).IsZero())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), UnixToTime(1704067200))
	assert.Equal(t, UnixToTime(1704067200), UnixAutoToTime(1704067200000))
	assert.Equal(t, UnixToTime(1704067200), UnixAutoToTime(1704067200))
	assert.Equal(t, "2024-01-01T00:00:00Z", FormatISO8601(UnixToTime(1704067200)))

	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(90), WaitSeconds(base, base.Add(90*time.Second+500*time.Millisecond)))
	assert.Equal(t, int64(0), WaitSeconds(base, base.Add(-time.Minute)))
	assert.Equal(t, int64(0), WaitSeconds(time.Time{}, base))
}

func TestConfigEqual(t *testing.T) {
	a := nats.StreamConfig{Name: "s", Subjects: []string{"a", "b"}, MaxAge: time.Hour}
	b := a
	b.Subjects = []string{"a", "b"}
	assert.True(t, StreamConfigEqual(a, b))
	b.Subjects = []string{"b", "a"}
	assert.False(t, StreamConfigEqual(a, b))

	c1 := nats.ConsumerConfig{Durable: "d", FilterSubjects: []string{"x", "y"}}
	c2 := nats.ConsumerConfig{Durable: "d", FilterSubjects: []string{"y", "x"}}
	assert.True(t, ConsumerConfigEqual(c1, c2))
	c2.FilterSubjects = []string{"y"}
	assert.False(t, ConsumerConfigEqual(c1, c2))
}

func TestWriteJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSONResponse(rec, 201, map[string]bool{"ok": true}))
	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestSafeGoRecovers(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var got interface{}
	SafeGo(func() { panic("boom") }, func(r interface{}, _ []byte) {
		got = r
		wg.Done()
	})
	wg.Wait()
	assert.Equal(t, "boom", got)
}

func TestWrapWithRecovery(t *testing.T) {
	err := WrapWithRecovery(func() error { panic("bad") })()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	sentinel := errors.New("plain")
	assert.ErrorIs(t, WrapWithRecovery(func() error { return sentinel })(), sentinel)
}
