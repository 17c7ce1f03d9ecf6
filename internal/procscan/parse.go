package procscan

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

type record struct {
	key      Key
	counters Counters
}

// parseOutput extracts per-process counters from accounting output. Each line
// is `<name>.<pid>,<bytes in>,<bytes out>[,...]`; anything else is skipped.
func parseOutput(data []byte) []record {
	var records []record

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if rec, ok := parseLine(scanner.Text()); ok {
			records = append(records, rec)
		}
	}
	return records
}

func parseLine(line string) (record, bool) {
	fields := strings.Split(strings.TrimRight(line, "\r"), ",")
	if len(fields) < 3 || fields[0] == "" {
		return record{}, false
	}

	rx, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return record{}, false
	}
	tx, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return record{}, false
	}

	key, ok := splitNameWithPID(fields[0])
	if !ok {
		return record{}, false
	}

	return record{key: key, counters: Counters{RxBytes: rx, TxBytes: tx}}, true
}

// splitNameWithPID treats the component after the last dot as the pid and
// everything before it as the name. Names ending in a dot-separated number
// are therefore misread; the accounting tool offers no unambiguous form.
func splitNameWithPID(token string) (Key, bool) {
	idx := strings.LastIndexByte(token, '.')
	if idx < 0 {
		return Key{}, false
	}

	pid, err := strconv.ParseInt(token[idx+1:], 10, 32)
	if err != nil {
		return Key{}, false
	}

	return Key{Name: token[:idx], PID: int(pid)}, true
}
