package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterOptions(t *testing.T) {
	options := []string{"192.168.1.10:1716", "192.168.1.22:1716", "Phone.local:1716"}
	assert.Equal(t, []string{"192.168.1.10:1716", "192.168.1.22:1716"}, FilterOptions(options, "192.168"))
	assert.Equal(t, []string{"Phone.local:1716"}, FilterOptions(options, " phone"))
	assert.Nil(t, FilterOptions(options, ""))
	assert.Nil(t, FilterOptions(options, "10.0"))
	assert.Nil(t, FilterOptions(options, "192.168.1.10:1716"))
}
