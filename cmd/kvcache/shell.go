package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"kvcache/pkg/cache"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  set <key> <value> [ttl=<duration>] [parent=<key>]
  get <key>
  del <key>
  has <key>
  size
  count <prefix>
  deps <key>
  stats
  clear
  watch <key>
  on <set|get|delete|expire>
  help
  quit`

// Shell 逐行读取命令并操作缓存
type Shell struct {
	cache *cache.Cache[string, string]
	out   io.Writer
}

// NewShell 创建命令行外壳
func NewShell(c *cache.Cache[string, string], out io.Writer) *Shell {
	return &Shell{cache: c, out: out}
}

// Run 处理输入直到 EOF、quit 命令或 ctx 取消
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.Exec(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "ERR %v\n", err)
		}
	}
	return scanner.Err()
}

// Exec 执行一条命令
func (s *Shell) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "set":
		return s.set(args)
	case "get":
		if err := needArgs(cmd, args, 1); err != nil {
			return err
		}
		v, ok, err := s.cache.Get(args[0])
		if err != nil {
			return err
		}
		if !ok {
			s.println("(nil)")
			return nil
		}
		s.println(v)
	case "del":
		if err := needArgs(cmd, args, 1); err != nil {
			return err
		}
		if err := s.cache.Delete(args[0]); err != nil {
			return err
		}
		s.println("OK")
	case "has":
		if err := needArgs(cmd, args, 1); err != nil {
			return err
		}
		s.println(fmt.Sprint(s.cache.Has(args[0])))
	case "size":
		s.println(fmt.Sprint(s.cache.Size()))
	case "count":
		if err := needArgs(cmd, args, 1); err != nil {
			return err
		}
		s.println(fmt.Sprint(s.cache.CountBy(args[0])))
	case "deps":
		if err := needArgs(cmd, args, 1); err != nil {
			return err
		}
		s.println(strings.Join(s.cache.Dependents(args[0]), " "))
	case "stats":
		data, err := gojson.Marshal(s.cache.Stats())
		if err != nil {
			return err
		}
		s.println(string(data))
	case "clear":
		s.cache.Clear()
		s.println("OK")
	case "watch":
		if err := needArgs(cmd, args, 1); err != nil {
			return err
		}
		if _, err := s.cache.ObserveKey(args[0], func(key, value string) {
			fmt.Fprintf(s.out, "notify %s=%s\n", key, value)
		}); err != nil {
			return err
		}
		s.println("OK")
	case "on":
		if err := needArgs(cmd, args, 1); err != nil {
			return err
		}
		event := cache.EventType(strings.ToLower(args[0]))
		if _, err := s.cache.On(event, func(key, value string) {
			fmt.Fprintf(s.out, "event %s %s=%s\n", event, key, value)
		}); err != nil {
			return err
		}
		s.println("OK")
	case "help":
		s.println(helpText)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (s *Shell) set(args []string) error {
	if err := needArgs("set", args, 2); err != nil {
		return err
	}
	key, value := args[0], args[1]

	var opts []cache.SetOption[string, string]
	for _, arg := range args[2:] {
		name, val, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("invalid option %q", arg)
		}
		switch name {
		case "ttl":
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("invalid ttl: %w", err)
			}
			opts = append(opts, cache.WithTTL[string, string](d))
		case "parent":
			opts = append(opts, cache.WithDependsOn[string, string](val))
		default:
			return fmt.Errorf("unknown option %q", name)
		}
	}

	if err := s.cache.Set(key, value, opts...); err != nil {
		return err
	}
	s.println("OK")
	return nil
}

func (s *Shell) println(line string) {
	fmt.Fprintln(s.out, line)
}

func needArgs(cmd string, args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("%s requires %d argument(s)", cmd, n)
	}
	return nil
}
