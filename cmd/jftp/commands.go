package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"slices"
	"time"

	"github.com/gonzalop/ftpsession"
)

type command struct {
	name    string
	aliases []string
	usage   string
	help    string

	// min and max bound the argument count; max < 0 means no limit
	min, max int

	// remote is set when the first argument names a remote file
	remote bool

	run func(sh *shell, argv []string) error
}

func commandTable() []*command {
	return []*command{
		{name: "open", usage: "open <target>", help: "connect and log in", min: 1, max: 1, run: cmdOpen},
		{name: "user", usage: "user <name> [password]", help: "reconnect to the last server as another user", min: 1, max: 2, run: cmdUser},
		{name: "close", aliases: []string{"disconnect"}, usage: "close", help: "disconnect from the server", max: 0, run: cmdClose},
		{name: "status", usage: "status", help: "show the connection settings", max: 0, run: cmdStatus},
		{name: "ls", aliases: []string{"dir"}, usage: "ls [path]", help: "list a directory", max: 1, remote: true, run: cmdList},
		{name: "nlist", aliases: []string{"nlst"}, usage: "nlist [path]", help: "list names only", max: 1, remote: true, run: cmdNameList},
		{name: "cd", aliases: []string{"cwd"}, usage: "cd <path>", help: "change the remote directory", min: 1, max: 1, remote: true, run: cmdChangeDir},
		{name: "cdup", usage: "cdup", help: "change to the parent directory", max: 0, run: cmdChangeDirUp},
		{name: "pwd", usage: "pwd", help: "print the remote directory", max: 0, run: cmdPrintDir},
		{name: "mkdir", usage: "mkdir <path>", help: "create a remote directory", min: 1, max: 1, run: cmdMakeDir},
		{name: "rmdir", usage: "rmdir <path>", help: "remove a remote directory", min: 1, max: 1, remote: true, run: cmdRemoveDir},
		{name: "rm", aliases: []string{"delete", "del"}, usage: "rm <path>", help: "delete a remote file", min: 1, max: 1, remote: true, run: cmdDelete},
		{name: "mv", aliases: []string{"rename"}, usage: "mv <from> <to>", help: "rename a remote file", min: 2, max: 2, remote: true, run: cmdRename},
		{name: "size", usage: "size <path>", help: "show the size of a remote file", min: 1, max: 1, remote: true, run: cmdSize},
		{name: "mdtm", aliases: []string{"modtime"}, usage: "mdtm <path>", help: "show the modification time of a remote file", min: 1, max: 1, remote: true, run: cmdModTime},
		{name: "get", aliases: []string{"recv"}, usage: "get <remote> [local]", help: "download a file", min: 1, max: 2, remote: true, run: cmdGet},
		{name: "reget", usage: "reget <remote> [local]", help: "resume a download", min: 1, max: 2, remote: true, run: cmdReget},
		{name: "put", aliases: []string{"send"}, usage: "put <local> [remote]", help: "upload a file", min: 1, max: 2, run: cmdPut},
		{name: "append", usage: "append <local> <remote>", help: "append a local file to a remote one", min: 2, max: 2, run: cmdAppend},
		{name: "passive", usage: "passive", help: "use passive data connections", max: 0, run: cmdPassive},
		{name: "active", usage: "active", help: "use active data connections", max: 0, run: cmdActive},
		{name: "binary", aliases: []string{"image"}, usage: "binary", help: "transfer files unchanged (TYPE I)", max: 0, run: cmdBinary},
		{name: "ascii", usage: "ascii", help: "translate line endings (TYPE A)", max: 0, run: cmdASCII},
		{name: "quote", aliases: []string{"literal"}, usage: "quote <verb> [args...]", help: "send a raw command", min: 1, max: -1, run: cmdQuote},
		{name: "feat", usage: "feat", help: "list the server's features", max: 0, run: cmdFeatures},
		{name: "help", aliases: []string{"?"}, usage: "help [command]", help: "show help", max: 1, run: cmdHelp},
		{name: "quit", aliases: []string{"exit", "bye"}, usage: "quit", help: "disconnect and exit", max: 0, run: cmdQuit},
	}
}

func cmdOpen(sh *shell, argv []string) error {
	return sh.open(argv[0])
}

func cmdUser(sh *shell, argv []string) error {
	if sh.last == nil {
		return errNotConnected
	}
	t := *sh.last
	t.user, t.password = argv[0], optional(argv, 1)
	return sh.dial(t)
}

func cmdClose(sh *shell, _ []string) error {
	if sh.worker == nil {
		return errNotConnected
	}
	host := sh.host
	sh.closeSession()
	sh.info.Fprintf(sh.out, "Disconnected from %s\n", host)
	return nil
}

func cmdStatus(sh *shell, _ []string) error {
	state := ftpsession.Disconnected
	if sh.worker != nil {
		state = sh.worker.Session().State()
		fmt.Fprintf(sh.out, "Server:    %s\n", sh.host)
		fmt.Fprintf(sh.out, "Session:   %s\n", sh.worker.Session().ID())
		if state == ftpsession.Authenticated {
			fmt.Fprintf(sh.out, "User:      %s\n", sh.worker.Session().User())
			fmt.Fprintf(sh.out, "Directory: %s\n", sh.worker.Session().WorkingDir())
		}
	}
	fmt.Fprintf(sh.out, "State:     %s\n", state)
	fmt.Fprintf(sh.out, "Mode:      %s\n", sh.mode)
	fmt.Fprintf(sh.out, "Type:      %s\n", sh.dataType)
	return nil
}

func cmdList(sh *shell, argv []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("list", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.List(ctx, optional(argv, 0))
	})
	if err != nil {
		return err
	}
	entries := v.([]*ftpsession.Entry)
	sh.names = sh.names[:0]
	for _, e := range entries {
		sh.names = append(sh.names, e.Name)
	}
	return renderEntries(sh.out, entries)
}

func cmdNameList(sh *shell, argv []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("nlist", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.NameList(ctx, optional(argv, 0))
	})
	if err != nil {
		return err
	}
	sh.names = v.([]string)
	for _, name := range sh.names {
		fmt.Fprintln(sh.out, name)
	}
	return nil
}

func cmdChangeDir(sh *shell, argv []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("cd", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		if err := s.ChangeDir(ctx, argv[0]); err != nil {
			return nil, err
		}
		return s.WorkingDir(), nil
	})
	if err != nil {
		return err
	}
	sh.names = nil
	fmt.Fprintln(sh.out, v)
	return nil
}

func cmdChangeDirUp(sh *shell, _ []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("cdup", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		if err := s.ChangeDirUp(ctx); err != nil {
			return nil, err
		}
		return s.WorkingDir(), nil
	})
	if err != nil {
		return err
	}
	sh.names = nil
	fmt.Fprintln(sh.out, v)
	return nil
}

func cmdPrintDir(sh *shell, _ []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("pwd", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.CurrentDir(ctx)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, v)
	return nil
}

func cmdMakeDir(sh *shell, argv []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("mkdir", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.MakeDir(ctx, argv[0])
	})
	if err != nil {
		return err
	}
	sh.ok.Fprintf(sh.out, "Created %s\n", v)
	return nil
}

// simple runs an operation that only reports success.
func (sh *shell) simple(op, done string, fn func(ctx context.Context, s *ftpsession.Session) error) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	_, err := sh.run(op, func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return nil, fn(ctx, s)
	})
	if err != nil {
		return err
	}
	sh.names = nil
	sh.ok.Fprintln(sh.out, done)
	return nil
}

func cmdRemoveDir(sh *shell, argv []string) error {
	return sh.simple("rmdir", "Removed "+argv[0], func(ctx context.Context, s *ftpsession.Session) error {
		return s.RemoveDir(ctx, argv[0])
	})
}

func cmdDelete(sh *shell, argv []string) error {
	return sh.simple("delete", "Deleted "+argv[0], func(ctx context.Context, s *ftpsession.Session) error {
		return s.Delete(ctx, argv[0])
	})
}

func cmdRename(sh *shell, argv []string) error {
	return sh.simple("rename", "Renamed "+argv[0]+" to "+argv[1], func(ctx context.Context, s *ftpsession.Session) error {
		return s.Rename(ctx, argv[0], argv[1])
	})
}

func cmdSize(sh *shell, argv []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("size", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.Size(ctx, argv[0])
	})
	if err != nil {
		return err
	}
	n := v.(int64)
	fmt.Fprintf(sh.out, "%s: %s (%d bytes)\n", argv[0], formatSize(n), n)
	return nil
}

func cmdModTime(sh *shell, argv []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("mdtm", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.ModTime(ctx, argv[0])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s: %s\n", argv[0], v.(time.Time).Format(time.RFC3339))
	return nil
}

// transferred prints a summary of a finished transfer.
func (sh *shell) transferred(verb string, n int64, start time.Time) {
	elapsed := time.Since(start)
	rate := ""
	if secs := elapsed.Seconds(); secs > 0 {
		rate = fmt.Sprintf(" (%s/s)", formatSize(int64(float64(n)/secs)))
	}
	sh.ok.Fprintf(sh.out, "%d bytes %s in %s%s\n", n, verb, elapsed.Round(time.Millisecond), rate)
}

func cmdGet(sh *shell, argv []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	local := optional(argv, 1)
	if local == "" {
		local = path.Base(argv[0])
	}
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	v, err := sh.run("retrieve", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.Retrieve(ctx, argv[0], f)
	})
	if err != nil {
		return err
	}
	sh.transferred("received", v.(int64), start)
	return f.Close()
}

func cmdReget(sh *shell, argv []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	local := optional(argv, 1)
	if local == "" {
		local = path.Base(argv[0])
	}
	f, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	start := time.Now()
	v, err := sh.run("retrieve", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.RetrieveFrom(ctx, argv[0], f, info.Size())
	})
	if err != nil {
		return err
	}
	sh.transferred("received", v.(int64), start)
	return f.Close()
}

func (sh *shell) upload(op, local, remote string, fn func(s *ftpsession.Session, ctx context.Context, remote string, r io.Reader) (int64, error)) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	v, err := sh.run(op, func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return fn(s, ctx, remote, f)
	})
	if err != nil {
		return err
	}
	sh.names = nil
	sh.transferred("sent", v.(int64), start)
	return nil
}

func cmdPut(sh *shell, argv []string) error {
	remote := optional(argv, 1)
	if remote == "" {
		remote = path.Base(argv[0])
	}
	return sh.upload("store", argv[0], remote, (*ftpsession.Session).Store)
}

func cmdAppend(sh *shell, argv []string) error {
	return sh.upload("append", argv[0], argv[1], (*ftpsession.Session).Append)
}

func (sh *shell) setMode(m ftpsession.TransferMode) {
	sh.mode = m
	if sh.worker != nil {
		sh.worker.Session().SetTransferMode(m)
	}
	fmt.Fprintf(sh.out, "Data connections: %s\n", m)
}

func cmdPassive(sh *shell, _ []string) error {
	sh.setMode(ftpsession.Passive)
	return nil
}

func cmdActive(sh *shell, _ []string) error {
	sh.setMode(ftpsession.Active)
	return nil
}

func (sh *shell) setType(t ftpsession.DataType) {
	sh.dataType = t
	if sh.worker != nil {
		sh.worker.Session().SetDataType(t)
	}
	fmt.Fprintf(sh.out, "Transfer type: %s\n", t)
}

func cmdBinary(sh *shell, _ []string) error {
	sh.setType(ftpsession.Binary)
	return nil
}

func cmdASCII(sh *shell, _ []string) error {
	sh.setType(ftpsession.ASCII)
	return nil
}

func cmdQuote(sh *shell, argv []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("quote", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.Quote(ctx, argv[0], argv[1:]...)
	})
	if err != nil {
		return err
	}
	reply := v.(*ftpsession.Reply)
	c := sh.ok
	if reply.Code >= 400 {
		c = sh.fail
	}
	c.Fprintln(sh.out, reply.String())
	return nil
}

func cmdFeatures(sh *shell, _ []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	v, err := sh.run("feat", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return s.Features(ctx)
	})
	if err != nil {
		return err
	}
	feats := v.(map[string]string)
	for _, name := range slices.Sorted(maps.Keys(feats)) {
		if params := feats[name]; params != "" {
			fmt.Fprintf(sh.out, "%s %s\n", name, params)
		} else {
			fmt.Fprintln(sh.out, name)
		}
	}
	return nil
}

func cmdHelp(sh *shell, argv []string) error {
	if len(argv) == 1 {
		c := sh.lookup(argv[0])
		if c == nil {
			return fmt.Errorf("unknown command %q", argv[0])
		}
		fmt.Fprintf(sh.out, "%s\n  %s\n", c.usage, c.help)
		if len(c.aliases) > 0 {
			fmt.Fprintf(sh.out, "  aliases: %v\n", c.aliases)
		}
		return nil
	}
	return renderHelp(sh.out, sh.commands)
}

func cmdQuit(sh *shell, _ []string) error {
	sh.closeSession()
	return errQuit
}

func optional(argv []string, i int) string {
	if i < len(argv) {
		return argv[i]
	}
	return ""
}
