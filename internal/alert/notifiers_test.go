package alert

import (
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmailNotifierUnconfigured(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewEmailNotifier("", "pw", "to@example.com", "smtp.example.com", 587, "Gate A"))
	assert.Nil(t, NewEmailNotifier("from@example.com", "", "to@example.com", "smtp.example.com", 587, "Gate A"))
	assert.Nil(t, NewEmailNotifier("from@example.com", "pw", "", "smtp.example.com", 587, "Gate A"))
	assert.Nil(t, NewEmailNotifier("from@example.com", "pw", "to@example.com", "", 587, "Gate A"))
	assert.NotNil(t, NewEmailNotifier("from@example.com", "pw", "to@example.com", "smtp.example.com", 587, "Gate A"))
}

func TestEmailSendBuildsMultipartMessage(t *testing.T) {
	t.Parallel()

	n := NewEmailNotifier("from@example.com", "pw", "to@example.com", "smtp.example.com", 587, "Main Entrance")
	require.NotNil(t, n)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := n.Send("missing PPE: helmet", []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "from@example.com", gotFrom)
	assert.Equal(t, []string{"to@example.com"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: PPE VIOLATION ALERT - Main Entrance")
	assert.Contains(t, msg, "multipart/mixed")
	assert.Contains(t, msg, "missing PPE: helmet")
	assert.Contains(t, msg, "Content-Type: image/jpeg")
	assert.Contains(t, msg, "Content-Transfer-Encoding: base64")
}

func TestEmailSendWithoutImageOmitsAttachment(t *testing.T) {
	t.Parallel()

	n := NewEmailNotifier("from@example.com", "pw", "to@example.com", "smtp.example.com", 587, "Gate A")
	require.NotNil(t, n)

	var gotMsg []byte
	n.sendMail = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = msg
		return nil
	}

	require.NoError(t, n.Send("violation detected: no_helmet", nil))
	assert.NotContains(t, string(gotMsg), "image/jpeg")
}

func TestNewTelegramNotifierUnconfigured(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewTelegramNotifier("", "42"))
	assert.Nil(t, NewTelegramNotifier("token", ""))
	assert.NotNil(t, NewTelegramNotifier("token", "42"))
}

func TestTelegramSendMessage(t *testing.T) {
	t.Parallel()

	var gotPath, gotChatID, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotChatID = r.FormValue("chat_id")
		gotText = r.FormValue("text")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok123", "42")
	require.NotNil(t, n)
	n.baseURL = srv.URL

	require.NoError(t, n.Send("missing PPE: vest", nil))
	assert.Equal(t, "/bottok123/sendMessage", gotPath)
	assert.Equal(t, "42", gotChatID)
	assert.Equal(t, "missing PPE: vest", gotText)
}

func TestTelegramSendPhoto(t *testing.T) {
	t.Parallel()

	var gotPath, gotCaption string
	var gotPhoto []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotCaption = r.FormValue("caption")
		file, _, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()
		buf := make([]byte, 8)
		m, _ := file.Read(buf)
		gotPhoto = buf[:m]
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok123", "42")
	require.NotNil(t, n)
	n.baseURL = srv.URL

	require.NoError(t, n.Send("violation detected: no_helmet", []byte{0xff, 0xd8}))
	assert.Equal(t, "/bottok123/sendPhoto", gotPath)
	assert.Equal(t, "violation detected: no_helmet", gotCaption)
	assert.Equal(t, []byte{0xff, 0xd8}, gotPhoto)
}

func TestTelegramNonOKStatusIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("bad", "42")
	require.NotNil(t, n)
	n.baseURL = srv.URL
	n.client = &http.Client{Timeout: 2 * time.Second}

	err := n.Send("v", nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "401"))
}

func TestNewAudioNotifierMissingFile(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewAudioNotifier("mpg123", "/nonexistent/alert.mp3"))
	assert.Nil(t, NewAudioNotifier("", "alert.mp3"))
	assert.Nil(t, NewAudioNotifier("mpg123", ""))
}
