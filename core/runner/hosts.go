package runner

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/1016qqz/FlagScale/core/models"
)

// ParseHostfile reads lines of the form
//
//	10.0.0.1 slots=8 type=A100
//
// Blank lines and # comments are skipped.
func ParseHostfile(r io.Reader) ([]models.Node, error) {
	var nodes []models.Node
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		node := models.Node{
			ID:       fields[0],
			Provider: models.ProviderHostfile,
			Address:  fields[0],
		}
		for _, f := range fields[1:] {
			k, v, ok := strings.Cut(f, "=")
			if !ok {
				return nil, errors.Errorf("hostfile line %d: expected key=value, got %q", lineNo, f)
			}
			switch k {
			case "slots":
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					return nil, errors.Errorf("hostfile line %d: invalid slots %q", lineNo, v)
				}
				node.Slots = n
			case "type":
				node.GPUType = v
			default:
				return nil, errors.Errorf("hostfile line %d: unknown attribute %q", lineNo, k)
			}
		}
		nodes = append(nodes, node)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read hostfile")
	}
	return nodes, nil
}
