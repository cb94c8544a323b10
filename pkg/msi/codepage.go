package msi

import (
	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

var codepages = map[int]encoding.Encoding{
	874:  charmap.Windows874,
	932:  japanese.ShiftJIS,
	936:  simplifiedchinese.GBK,
	949:  korean.EUCKR,
	950:  traditionalchinese.Big5,
	1250: charmap.Windows1250,
	1251: charmap.Windows1251,
	1252: charmap.Windows1252,
	1253: charmap.Windows1253,
	1254: charmap.Windows1254,
	1255: charmap.Windows1255,
	1256: charmap.Windows1256,
	1257: charmap.Windows1257,
	1258: charmap.Windows1258,
}

// CodepageEncoder converts strings to the byte form a database with
// the given code page stores. The zero value and 65001 leave strings
// untouched.
type CodepageEncoder struct {
	codepage int
	enc      *encoding.Encoder
}

// NewCodepageEncoder returns an encoder for codepage, or an
// ErrInvalidModel if the code page is not supported.
func NewCodepageEncoder(codepage int) (*CodepageEncoder, error) {
	ce := &CodepageEncoder{codepage: codepage}
	if codepage == 0 || codepage == 65001 {
		return ce, nil
	}
	e, ok := codepages[codepage]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidModel, "unsupported code page %d", codepage)
	}
	ce.enc = e.NewEncoder()
	return ce, nil
}

// Encode returns s in the target code page. Characters the code page
// cannot represent are an ErrInvalidModel.
func (ce *CodepageEncoder) Encode(s string) (string, error) {
	if ce.enc == nil {
		return s, nil
	}
	out, err := ce.enc.String(s)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidModel, "%q is not representable in code page %d", s, ce.codepage)
	}
	return out, nil
}

// SupportedCodepage reports whether strings can be encoded for cp.
func SupportedCodepage(cp int) bool {
	if cp == 0 || cp == 65001 {
		return true
	}
	_, ok := codepages[cp]
	return ok
}
