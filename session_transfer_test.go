package ftpsession

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpsession/internal/ftptest"
)

// writerFunc adapts a function to io.Writer.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestSession_StoreAndRetrieve(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		verb string
	}{
		{"extended passive", nil, "EPSV"},
		{"passive", []Option{WithDisableEPSV()}, "PASV"},
		{"active", []Option{WithActiveMode()}, "PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ftptest.NewServer(t)
			s := login(t, srv, tt.opts...)
			ctx := t.Context()
			payload := bytes.Repeat([]byte("0123456789"), 10000)

			n, err := s.Store(ctx, "data.bin", bytes.NewReader(payload))
			require.NoError(t, err)
			assert.Equal(t, int64(len(payload)), n)
			stored, ok := srv.File("data.bin")
			require.True(t, ok)
			assert.Equal(t, payload, stored)

			var got bytes.Buffer
			n, err = s.Retrieve(ctx, "data.bin", &got)
			require.NoError(t, err)
			assert.Equal(t, int64(len(payload)), n)
			assert.Equal(t, payload, got.Bytes())

			assert.Equal(t, Authenticated, s.State())
			assert.Equal(t, 2, srv.Count(tt.verb))
			// TYPE is sent once and remembered
			assert.Equal(t, 1, srv.Count("TYPE"))
			assert.Contains(t, srv.Lines(), "TYPE I")
		})
	}
}

func TestSession_Append(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.SetFile("log.txt", []byte("one\n"))
	s := login(t, srv)

	_, err := s.Append(t.Context(), "log.txt", strings.NewReader("two\n"))
	require.NoError(t, err)
	content, _ := srv.File("log.txt")
	assert.Equal(t, "one\ntwo\n", string(content))
}

func TestSession_StoreASCII(t *testing.T) {
	srv := ftptest.NewServer(t)
	s := login(t, srv, WithDataType(ASCII))

	_, err := s.Store(t.Context(), "notes.txt", strings.NewReader("a\nb\n"))
	require.NoError(t, err)
	content, _ := srv.File("notes.txt")
	assert.Equal(t, "a\r\nb\r\n", string(content))
	assert.Contains(t, srv.Lines(), "TYPE A")

	s.SetDataType(Binary)
	var got bytes.Buffer
	_, err = s.Retrieve(t.Context(), "notes.txt", &got)
	require.NoError(t, err)
	assert.Equal(t, "a\r\nb\r\n", got.String())
	assert.Contains(t, srv.Lines(), "TYPE I")
}

func TestSession_RetrieveFrom(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.SetFile("big.bin", []byte("rest of file"))
	s := login(t, srv)

	var got bytes.Buffer
	_, err := s.RetrieveFrom(t.Context(), "big.bin", &got, 1024)
	require.NoError(t, err)
	assert.Contains(t, srv.Lines(), "REST 1024")

	lines := srv.Lines()
	assert.Equal(t, "RETR big.bin", lines[len(lines)-1])
}

func TestSession_RetrieveMissing(t *testing.T) {
	srv := ftptest.NewServer(t)
	s := login(t, srv)

	_, err := s.Retrieve(t.Context(), "missing.bin", io.Discard)
	fe := requireKind(t, err, KindCommand)
	assert.Equal(t, 550, fe.Code)
	assert.Equal(t, Authenticated, s.State())

	_, err = s.MakeDir(t.Context(), "/after")
	require.NoError(t, err)
}

func TestSession_ExtendedPassiveFallback(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("EPSV", ftptest.Reply("502 Command not implemented."))
	srv.SetListing("-rw-r--r-- 1 ftp ftp 5 Jan 01 2020 a.txt\r\n")
	s := login(t, srv)

	for range 2 {
		entries, err := s.List(t.Context(), "")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "a.txt", entries[0].Name)
	}

	// EPSV is not retried once refused
	assert.Equal(t, 1, srv.Count("EPSV"))
	assert.Equal(t, 2, srv.Count("PASV"))
}

func TestSession_PassiveRefused(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("PASV", ftptest.Reply("425 Can't open passive connection."))
	s := login(t, srv, WithDisableEPSV())

	_, err := s.List(t.Context(), "")
	fe := requireKind(t, err, KindNegotiation)
	assert.Equal(t, 425, fe.Code)
	assert.True(t, fe.Recoverable())
	assert.Equal(t, Authenticated, s.State())
	assert.NotContains(t, srv.Verbs(), "LIST")
}

func TestSession_ConnectionResetMidTransfer(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("RETR", func(c *ftptest.Conn, arg string) {
		c.Reply("150 Opening data connection.")
		dc, err := c.OpenData()
		if err != nil {
			c.Reply("425 Can't open data connection.")
			return
		}
		_, _ = dc.Write([]byte("partial data"))
		ftptest.Reset(dc)
		c.Reply("426 Connection closed; transfer aborted.")
	})
	srv.Handle("ABOR", ftptest.Reply("226 Abort successful."))
	s := login(t, srv)

	_, err := s.Retrieve(t.Context(), "file.bin", io.Discard)
	fe := requireKind(t, err, KindTransfer)
	assert.Equal(t, "RETR", fe.Command)
	assert.True(t, fe.Recoverable())
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, 1, srv.Count("ABOR"))

	dir, err := s.MakeDir(t.Context(), "/after")
	require.NoError(t, err)
	assert.Equal(t, "/after", dir)
}

func TestSession_AbortDrainsSingleReply(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("RETR", streamUntilClosed)
	// one reply covers both the transfer and ABOR
	srv.Handle("ABOR", ftptest.Reply("426 Transfer aborted."))
	s := login(t, srv, WithAbortDrainTimeout(100*time.Millisecond))

	sink := writerFunc(func(p []byte) (int, error) {
		_ = s.Abort()
		return len(p), nil
	})
	_, err := s.Retrieve(t.Context(), "file.bin", sink)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, Authenticated, s.State())

	require.NoError(t, s.Noop(t.Context()))
	// one NOOP realigned the channel after the missing second reply
	assert.Equal(t, 2, srv.Count("NOOP"))
}

func TestSession_AbortLateSecondReply(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("RETR", streamUntilClosed)
	// the second reply arrives after the drain timeout
	srv.Handle("ABOR", func(c *ftptest.Conn, arg string) {
		c.Reply("426 Transfer aborted.")
		time.Sleep(400 * time.Millisecond)
		c.Reply("226 Abort successful.")
	})
	srv.Handle("MKD", ftptest.Reply("550 Permission denied."))
	s := login(t, srv, WithAbortDrainTimeout(100*time.Millisecond))

	sink := writerFunc(func(p []byte) (int, error) {
		_ = s.Abort()
		return len(p), nil
	})
	_, err := s.Retrieve(t.Context(), "file.bin", sink)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, 1, srv.Count("NOOP"))

	// the late 226 must not be taken as the answer to MKD
	_, err = s.MakeDir(t.Context(), "/new")
	fe := requireKind(t, err, KindCommand)
	assert.Equal(t, "MKD", fe.Command)
	assert.Equal(t, 550, fe.Code)
	assert.Equal(t, Authenticated, s.State())
}

func TestSession_AbortResyncFails(t *testing.T) {
	srv := ftptest.NewServer(t)
	release := make(chan struct{})
	defer close(release)
	srv.Handle("RETR", streamUntilClosed)
	srv.Handle("ABOR", ftptest.Reply("426 Transfer aborted."))
	srv.Handle("NOOP", blockUntil(release, "200 OK"))
	s := login(t, srv, WithTimeout(300*time.Millisecond), WithAbortDrainTimeout(50*time.Millisecond))

	sink := writerFunc(func(p []byte) (int, error) {
		_ = s.Abort()
		return len(p), nil
	})
	_, err := s.Retrieve(t.Context(), "file.bin", sink)
	fe := requireKind(t, err, KindIO)
	assert.Equal(t, "RETR", fe.Command)
	assert.Equal(t, Disconnected, s.State())
}

func TestSession_ControlLostMidTransfer(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("RETR", func(c *ftptest.Conn, arg string) {
		c.Reply("150 Opening data connection.")
		dc, err := c.OpenData()
		if err != nil {
			c.Reply("425 Can't open data connection.")
			return
		}
		_, _ = dc.Write(bytes.Repeat([]byte("x"), 4096))
		ftptest.Reset(dc)
		_ = c.Close()
	})
	s := login(t, srv)

	_, err := s.Retrieve(t.Context(), "file.bin", io.Discard)
	assert.ErrorIs(t, err, ErrIO)
	fe := requireKind(t, err, KindIO)
	assert.Equal(t, "RETR", fe.Command)
	assert.Equal(t, Disconnected, s.State())
}

func TestSession_TransferCancelledDuringSetup(t *testing.T) {
	tests := []struct {
		name    string
		verb    string
		reply   string
		offset  int64
		notSent []string
	}{
		{name: "after TYPE", verb: "TYPE", reply: "200 Type set.", notSent: []string{"EPSV", "RETR"}},
		{name: "after EPSV", verb: "EPSV", notSent: []string{"RETR"}},
		{name: "after REST", verb: "REST", reply: "350 Restarting.", offset: 10, notSent: []string{"RETR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			srv := ftptest.NewServer(t)
			srv.Handle(tt.verb, func(c *ftptest.Conn, arg string) {
				cancel()
				line := tt.reply
				if tt.verb == "EPSV" {
					line = fmt.Sprintf("229 Entering Extended Passive Mode (|||%d|)", srv.PassivePort())
				}
				c.Reply(line)
			})
			s := login(t, srv)

			_, err := s.RetrieveFrom(ctx, "file.bin", io.Discard, tt.offset)
			assert.ErrorIs(t, err, context.Canceled)
			assert.ErrorIs(t, err, ErrTransfer)
			assert.Equal(t, Authenticated, s.State())
			for _, verb := range tt.notSent {
				assert.Zero(t, srv.Count(verb), "%s sent after cancel", verb)
			}

			require.NoError(t, s.Noop(t.Context()))
		})
	}
}

func TestSession_Abort(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("RETR", streamUntilClosed)
	s := login(t, srv)

	sink := writerFunc(func(p []byte) (int, error) {
		_ = s.Abort()
		return len(p), nil
	})
	_, err := s.Retrieve(t.Context(), "file.bin", sink)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, 1, srv.Count("ABOR"))

	require.NoError(t, s.Noop(t.Context()))
}

func TestSession_TransferContextCancel(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("RETR", streamUntilClosed)
	s := login(t, srv)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sink := writerFunc(func(p []byte) (int, error) {
		cancel()
		return len(p), nil
	})
	_, err := s.Retrieve(ctx, "file.bin", sink)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.ErrorIs(t, err, context.Canceled)

	// unlike a plain command, a cancelled transfer keeps the session
	assert.Equal(t, Authenticated, s.State())
	require.NoError(t, s.Noop(t.Context()))
}

func TestSession_CompressionRefused(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("MODE", ftptest.Reply("504 Command not implemented for that parameter."))
	srv.SetFile("a.txt", []byte("plain"))
	s := login(t, srv, WithCompression(6))

	for range 2 {
		var got bytes.Buffer
		_, err := s.Retrieve(t.Context(), "a.txt", &got)
		require.NoError(t, err)
		assert.Equal(t, "plain", got.String())
	}
	assert.Equal(t, 1, srv.Count("MODE"))
}

func TestSession_TransferWithoutPreliminaryReply(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.Handle("STOR", func(c *ftptest.Conn, arg string) {
		dc, err := c.OpenData()
		if err != nil {
			c.Reply("425 Can't open data connection.")
			return
		}
		c.Reply("226 Transfer complete.")
		_, _ = io.Copy(io.Discard, dc)
		dc.Close()
	})
	s := login(t, srv)

	n, err := s.Store(t.Context(), "quick.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, Authenticated, s.State())
	require.NoError(t, s.Noop(t.Context()))
}

func TestSession_Progress(t *testing.T) {
	srv := ftptest.NewServer(t)
	srv.SetFile("p.bin", bytes.Repeat([]byte("p"), 4096))

	var last int64
	s := login(t, srv, WithProgress(func(n int64) { last = n }), WithBandwidthLimit(1<<30))

	_, err := s.Retrieve(t.Context(), "p.bin", io.Discard)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), last)
}
