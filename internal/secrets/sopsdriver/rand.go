package sopsdriver

import (
	"crypto/rand"
	"io"
)

func cryptoRandReader() io.Reader {
	return rand.Reader
}
