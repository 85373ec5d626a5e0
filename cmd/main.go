package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"github.com/ergochat/readline"
	"gopkg.in/yaml.v3"

	"github.com/dalian-mobile/valuesync"
	"github.com/dalian-mobile/valuesync/codec"
	"github.com/dalian-mobile/valuesync/protocol"
	"github.com/dalian-mobile/valuesync/utils"
)

type Config struct {
	Src     uint64 `yaml:"src"`
	Listen  string `yaml:"listen"`
	Connect string `yaml:"connect"`
	Debug   bool   `yaml:"debug"`
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("listen"),
	readline.PcItem("connect"),
	readline.PcItem("set"),
	readline.PcItem("get"),
	readline.PcItem("show"),
	readline.PcItem("stat"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

type node struct {
	lock sync.Mutex

	cfg Config
	log utils.Logger
	cdc codec.Codec
	net *protocol.Net

	reg *valuesync.Register
	mgr *valuesync.Manager[valuesync.Register, valuesync.RegisterOp]
}

func (n *node) attach(mgr *valuesync.Manager[valuesync.Register, valuesync.RegisterOp]) {
	n.lock.Lock()
	n.mgr = mgr
	n.lock.Unlock()

	// keep both streams drained so the sync loops never stall on us
	go func() {
		for range mgr.Notifications() {
		}
	}()
	go func() {
		for err := range mgr.Errors() {
			fmt.Fprintf(os.Stderr, "sync error: %v\n", err)
		}
	}()
}

func (n *node) listen(ctx context.Context, addr string) error {
	n.net.Handshake = func() ([]byte, error) {
		return n.cdc.Encode(n.reg)
	}
	n.net.OnPeer = func(conn *protocol.Conn) {
		n.lock.Lock()
		busy := n.mgr != nil
		n.lock.Unlock()
		if busy {
			n.log.Warn("already syncing with a peer, rejecting", "name", conn.Name())
			_ = conn.Close()
			return
		}
		n.attach(valuesync.New[valuesync.Register, valuesync.RegisterOp](
			n.reg, conn, valuesync.RegisterStrategy{}, valuesync.Options{Logger: n.log}))
	}
	return n.net.Listen(ctx, addr)
}

func (n *node) connect(ctx context.Context, addr string) error {
	conn, err := n.net.Dial(ctx, addr)
	if err != nil {
		return err
	}
	mgr, err := valuesync.Connect[valuesync.Register, valuesync.RegisterOp](
		ctx, conn, valuesync.RegisterStrategy{}, valuesync.Options{Logger: n.log})
	if err != nil {
		return err
	}
	reg, err := mgr.Value()
	if err != nil {
		return err
	}
	reg.SetSource(n.cfg.Src)
	n.reg = reg
	n.attach(mgr)
	return nil
}

func (n *node) stat() string {
	n.lock.Lock()
	mgr := n.mgr
	n.lock.Unlock()
	if mgr == nil {
		return "not syncing"
	}
	s := mgr.Stats()
	return fmt.Sprintf("connected=%v applied=%d produced=%d decode_err=%d apply_err=%d encode_err=%d send_err=%d",
		mgr.Connected(), s.Applied, s.Produced, s.DecodeFailures, s.ApplyFailures, s.EncodeFailures, s.SendFailures)
}

const help = `listen <addr>     serve the register to a connecting peer
connect <addr>    bootstrap the register from a listening peer
set <key> <val>   write a key locally
get <key>         read a key
show              dump the register
stat              sync counters
exit              quit`

func loadConfig(path string) (cfg Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	err = yaml.Unmarshal(data, &cfg)
	return
}

func main() {
	var cfg Config
	if len(os.Args) > 1 {
		var err error
		if cfg, err = loadConfig(os.Args[1]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if cfg.Src == 0 {
		cfg.Src = rand.Uint64()
	}
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	log := utils.NewDefaultLogger(level)
	n := &node{
		cfg: cfg,
		log: log,
		cdc: codec.JSON{},
		reg: valuesync.NewRegister(cfg.Src),
	}
	n.net = protocol.NewNet(log, n.cdc)
	defer n.net.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Listen != "" {
		if err := n.listen(ctx, cfg.Listen); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if cfg.Connect != "" {
		if err := n.connect(ctx, cfg.Connect); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("sync:%x> ", cfg.Src&0xffff),
		HistoryFile:     "/tmp/valuesync.tmp",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rl.Close()
	rl.CaptureExitSignal()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "help":
			fmt.Println(help)
		case "listen":
			if len(args) != 2 {
				fmt.Println("usage: listen <addr>")
				continue
			}
			if err := n.listen(ctx, args[1]); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case "connect":
			if len(args) != 2 {
				fmt.Println("usage: connect <addr>")
				continue
			}
			if err := n.connect(ctx, args[1]); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case "set":
			if len(args) != 3 {
				fmt.Println("usage: set <key> <value>")
				continue
			}
			n.reg.Set(args[1], args[2])
		case "get":
			if len(args) != 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			if value, ok := n.reg.Get(args[1]); ok {
				fmt.Println(value)
			} else {
				fmt.Println("(not set)")
			}
		case "show":
			for key, value := range n.reg.Map() {
				fmt.Printf("%s\t%s\n", key, value)
			}
		case "stat":
			fmt.Println(n.stat())
		case "exit", "quit":
			return
		default:
			fmt.Println("unknown command, try help")
		}
	}
}
