package livefs

import (
	"context"
	"os"
	"strings"
)

// bootConfigFiles lists the boot configuration files, relative to
// new/iso, that carry a kernel command line. Not every
// image ships all three; callers skip the ones that don't exist.
func bootConfigFiles() []string {
	return []string{
		"boot/grub/grub.cfg",
		"isolinux/txt.cfg",
		"boot/parmfile.ubuntu",
	}
}

// cmdlineFile pairs a boot config file's absolute path with its parsed
// lines, so rewriters can edit one line in place and rewrite the whole
// file back out.
type cmdlineFile struct {
	path  string
	lines []string
}

func (s *Session) existingCmdlineFiles() ([]cmdlineFile, error) {
	var files []cmdlineFile
	for _, rel := range bootConfigFiles() {
		p, err := s.P("new", "iso", rel)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		files = append(files, cmdlineFile{path: p, lines: strings.Split(string(data), "\n")})
	}
	return files, nil
}

// lookupCmdlineToken scans a line's shell-tokenized form for a token of
// the form key=value and returns its value.
func lookupCmdlineToken(line, key string) (string, bool) {
	prefix := key + "="
	for _, tok := range shlexSplit(line) {
		if value, ok := strings.CutPrefix(tok, prefix); ok {
			return value, true
		}
	}
	return "", false
}

// GetCmdlineArg searches every boot config file's kernel-argument lines
// (those containing the "---" delimiter separating pre-delimiter and
// post-delimiter arguments) for a shell-tokenized key=value pair and
// returns the value of the first match found, scanning files in the
// order bootConfigFiles lists them.
func (s *Session) GetCmdlineArg(ctx context.Context, key string) (string, bool, error) {
	files, err := s.existingCmdlineFiles()
	if err != nil {
		return "", false, err
	}
	for _, f := range files {
		for _, line := range f.lines {
			if !strings.Contains(line, "---") {
				continue
			}
			if value, ok := lookupCmdlineToken(line, key); ok {
				return value, true, nil
			}
		}
	}
	return "", false, nil
}

// AddCmdlineArg rewrites every kernel-argument line of every existing
// boot config file, adding arg either before the "---" delimiter
// (persist=false, seen only by the live session's boot and not carried
// over to the installed system) or after the line's trailing arguments
// (persist=true, also carried over to the installed system's kernel
// command line). For example the line:
//
//	linux /casper/vmlinuz boot=casper quiet --- splash
//
// becomes, with AddCmdlineArg("autoinstall", false):
//
//	linux /casper/vmlinuz boot=casper quiet autoinstall --- splash
//
// and with AddCmdlineArg("autoinstall", true):
//
//	linux /casper/vmlinuz boot=casper quiet --- splash autoinstall
func (s *Session) AddCmdlineArg(ctx context.Context, arg string, persist bool) error {
	files, err := s.existingCmdlineFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		changed := false
		for i, line := range f.lines {
			idx := strings.Index(line, "---")
			if idx < 0 {
				continue
			}
			if persist {
				f.lines[i] = strings.TrimRight(line, " \t") + " " + arg
			} else {
				before := strings.TrimRight(line[:idx], " \t")
				after := line[idx:]
				f.lines[i] = before + " " + arg + " " + after
			}
			changed = true
		}
		if !changed {
			continue
		}
		if err := os.WriteFile(f.path, []byte(strings.Join(f.lines, "\n")), 0o644); err != nil {
			return err
		}
	}
	return nil
}
