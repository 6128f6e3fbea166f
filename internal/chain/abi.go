package chain

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MethodIndex maps 4-byte call selectors to method names across a set of
// contract ABIs. A nil index resolves nothing.
type MethodIndex struct {
	files   int
	methods map[[4]byte]string
}

// LoadABIs indexes every *.json ABI under dirs. When two files declare the
// same selector the one with the lexically smaller path wins.
func LoadABIs(dirs []string) (*MethodIndex, error) {
	var paths []string
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk abi dir %s: %w", dir, err)
		}
	}
	sort.Strings(paths)

	idx := &MethodIndex{methods: map[[4]byte]string{}}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read abi %s: %w", path, err)
		}
		parsed, err := abi.JSON(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse abi %s: %w", path, err)
		}
		idx.files++
		for _, m := range parsed.Methods {
			var sel [4]byte
			copy(sel[:], m.ID)
			if _, dup := idx.methods[sel]; !dup {
				idx.methods[sel] = m.Name
			}
		}
	}
	return idx, nil
}

// Files is how many ABI files were indexed.
func (x *MethodIndex) Files() int {
	if x == nil {
		return 0
	}
	return x.files
}

// Len is the number of distinct selectors.
func (x *MethodIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.methods)
}

// MethodName resolves the selector at the head of calldata.
func (x *MethodIndex) MethodName(input []byte) (string, bool) {
	if x == nil || len(input) < 4 {
		return "", false
	}
	name, ok := x.methods[[4]byte(input[:4])]
	return name, ok
}
