// Package shell implements the interactive single-user REPL: a
// line-edited command loop over the UART that drives the file system,
// task table, and scheduler end to end. Output formatting is
// hand-rolled byte-at-a-time (no fmt/strconv), in the same style as
// internal/klog, since the output shapes are fixed and small.
package shell

import (
	"rvos/internal/fs"
	"rvos/internal/sched"
	"rvos/internal/task"
	"rvos/internal/uart"
)

const maxLine = 256

// Stats supplies the read-only counters the shell reports (meminfo,
// uptime) without giving the shell direct access to the heap or page
// pool internals.
type Stats struct {
	Ticks          func() uint64
	HeapAllocated  func() uint64
	PagesAllocated func() uint32
}

// Shell is the command REPL, bound to the kernel subsystems it
// drives.
type Shell struct {
	tty       *uart.Driver
	fsys      *fs.FS
	tasks     *task.Table
	scheduler *sched.Scheduler
	stats     Stats
	pid       int32
	shutdown  func()
}

// New creates a Shell running as task pid, over the given subsystems.
// shutdown is called by the "exit" command; it is where a firmware
// power-off call would be wired, and may be nil in a test harness.
func New(tty *uart.Driver, fsys *fs.FS, tasks *task.Table, scheduler *sched.Scheduler, stats Stats, pid int32, shutdown func()) *Shell {
	return &Shell{tty: tty, fsys: fsys, tasks: tasks, scheduler: scheduler, stats: stats, pid: pid, shutdown: shutdown}
}

func (s *Shell) puts(str string) {
	s.tty.Write([]byte(str))
}

// Run drives the REPL forever: prompt, read a line, dispatch it. It
// never returns on real hardware (the "exit" command halts the
// machine via shutdown); it is not exercised directly by tests, which
// call Step instead.
func (s *Shell) Run() {
	for {
		s.puts("> ")
		s.Step()
	}
}

// Step reads and dispatches exactly one command line, for testability
// without an infinite loop.
func (s *Shell) Step() {
	line := s.readLine()
	s.dispatch(line)
}

func (s *Shell) readLine() string {
	var buf []byte
	for {
		c := s.tty.GetChar()
		switch {
		case c == '\r' || c == '\n':
			s.puts("\n")
			return string(buf)
		case c == 0x08 || c == 0x7f: // backspace / DEL
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				s.puts("\b \b")
			}
		default:
			if len(buf) < maxLine {
				buf = append(buf, c)
				s.tty.PutChar(c)
			}
		}
	}
}

func splitFields(line string) []string {
	var fields []string
	start := -1
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			if start != -1 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start == -1 {
			start = i
		}
	}
	if start != -1 {
		fields = append(fields, line[start:])
	}
	return fields
}

func (s *Shell) dispatch(line string) {
	fields := splitFields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "help":
		s.cmdHelp()
	case "ls":
		s.cmdLs()
	case "cat":
		s.cmdCat(fields[1:])
	case "echo":
		s.cmdEcho(line)
	case "ps":
		s.cmdPs()
	case "fork":
		s.cmdFork()
	case "uptime":
		s.cmdUptime()
	case "meminfo":
		s.cmdMeminfo()
	case "clear":
		s.puts("\x1b[2J\x1b[H")
	case "exit":
		s.cmdExit()
	default:
		s.puts("unknown command: ")
		s.puts(fields[0])
		s.puts("\n")
	}
}

func (s *Shell) cmdHelp() {
	s.puts("commands: help ls cat echo ps fork uptime meminfo clear exit\n")
}

func (s *Shell) cmdLs() {
	for _, name := range s.fsys.List(s.pid) {
		s.puts(name)
		s.puts("\n")
	}
}

func (s *Shell) cmdCat(args []string) {
	if len(args) != 1 {
		s.puts("usage: cat <file>\n")
		return
	}
	size, _, ok := s.fsys.Stat(s.pid, args[0])
	if !ok {
		s.puts("cat: no such file: ")
		s.puts(args[0])
		s.puts("\n")
		return
	}
	buf := make([]byte, size)
	n := s.fsys.Read(s.pid, args[0], buf, 0)
	if n < 0 {
		s.puts("cat: read error\n")
		return
	}
	s.tty.Write(buf[:n])
	s.puts("\n")
}

// cmdEcho implements `echo <text> [> <file>]`: everything after
// "echo " up to a literal " > " is the text; a trailing "> name"
// writes that text as a file of exact length instead of printing it.
func (s *Shell) cmdEcho(line string) {
	rest := line[len("echo"):]
	for len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}

	if idx := indexRedirect(rest); idx != -1 {
		text := rest[:idx]
		target := rest[idx+len(" > "):]
		// replace any existing file so the result has exactly len(text) bytes
		s.fsys.Remove(s.pid, target)
		if n := s.fsys.Write(s.pid, target, []byte(text), 0); n < 0 {
			s.puts("echo: write failed\n")
		}
		return
	}

	s.puts(rest)
	s.puts("\n")
}

func indexRedirect(s string) int {
	for i := 0; i+3 <= len(s); i++ {
		if s[i] == ' ' && s[i+1] == '>' && s[i+2] == ' ' {
			return i
		}
	}
	return -1
}

func (s *Shell) cmdPs() {
	s.puts("PID  PPID STATE   NAME\n")
	for _, slot := range s.tasks.All() {
		t := s.tasks.Get(slot)
		s.puts(padInt(t.PID, 4))
		s.puts(" ")
		s.puts(padInt(t.PPID, 4))
		s.puts(" ")
		s.puts(padStr(stateName(t.State), 7))
		s.puts(" ")
		s.puts(cstr(t.Name[:]))
		s.puts("\n")
	}
}

func stateName(st task.State) string {
	switch st {
	case task.Free:
		return "FREE"
	case task.Ready:
		return "READY"
	case task.Running:
		return "RUN"
	case task.Blocked:
		return "BLOCK"
	case task.Zombie:
		return "ZOMBIE"
	default:
		return "?"
	}
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (s *Shell) cmdFork() {
	childPID, ok := s.tasks.Fork()
	if !ok {
		s.puts("fork: failed\n")
		return
	}
	s.scheduler.Enqueue(s.tasks.Lookup(childPID))
	s.puts("forked pid ")
	s.puts(itoa(int64(childPID)))
	s.puts("\n")
}

func (s *Shell) cmdUptime() {
	var ticks uint64
	if s.stats.Ticks != nil {
		ticks = s.stats.Ticks()
	}
	s.puts("ticks: ")
	s.puts(itoa(int64(ticks)))
	s.puts("\n")
}

func (s *Shell) cmdMeminfo() {
	var heapBytes uint64
	var pages uint32
	if s.stats.HeapAllocated != nil {
		heapBytes = s.stats.HeapAllocated()
	}
	if s.stats.PagesAllocated != nil {
		pages = s.stats.PagesAllocated()
	}
	s.puts("heap allocated: ")
	s.puts(itoa(int64(heapBytes)))
	s.puts(" bytes\npages allocated: ")
	s.puts(itoa(int64(pages)))
	s.puts("\n")
}

func (s *Shell) cmdExit() {
	if s.shutdown != nil {
		s.shutdown()
		return
	}
	s.puts("exit: no shutdown path on this build\n")
}

// itoa formats v in decimal without importing strconv, in the same
// spirit as internal/klog.Hex's hand-rolled digit loop.
func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		digits[i] = '-'
	}
	return string(digits[i:])
}

func padInt(v int32, width int) string {
	return padStr(itoa(int64(v)), width)
}

func padStr(str string, width int) string {
	for len(str) < width {
		str = str + " "
	}
	return str
}
