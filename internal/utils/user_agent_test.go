package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUserAgent(t *testing.T) {
	firefox := "Mozilla/5.0 (X11; Linux x86_64; rv:129.0) Gecko/20100101 Firefox/129.0"
	assert.Equal(t, firefox, NormalizeUserAgent("  "+firefox+" "))
	assert.Equal(t, DefaultUserAgent(), NormalizeUserAgent(""))
	assert.Equal(t, DefaultUserAgent(), NormalizeUserAgent("go-resty/2.17.1"))
	assert.Equal(t, DefaultUserAgent(), NormalizeUserAgent("Mozilla/5.0 (compatible; bot)"))
}
