package instance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	testCases := []struct {
		name      string
		inputName string
		wantErr   bool
		errMsg    string
	}{
		{name: "default", inputName: DefaultName},
		{name: "with hyphens", inputName: "mirror-staging-2"},
		{name: "single character", inputName: "m"},
		{name: "empty", inputName: "", wantErr: true, errMsg: "cannot be empty"},
		{name: "uppercase", inputName: "Mirror", wantErr: true, errMsg: "must be lowercase"},
		{name: "leading hyphen", inputName: "-mirror", wantErr: true, errMsg: "not at start/end"},
		{name: "trailing hyphen", inputName: "mirror-", wantErr: true, errMsg: "not at start/end"},
		{name: "colon would break redis keys", inputName: "mirror:prod", wantErr: true, errMsg: "must be lowercase alphanumeric"},
		{name: "exactly 63 characters", inputName: strings.Repeat("a", MaxNameLength)},
		{name: "64 characters", inputName: strings.Repeat("a", MaxNameLength+1), wantErr: true, errMsg: "too long"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateName(tc.inputName)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestGetRedisURL(t *testing.T) {
	host := GetRedisHost()
	assert.Equal(t, "redis://"+host+":6379", GetRedisURL(0))
	assert.Equal(t, "redis://"+host+":6380", GetRedisURL(6380))
}
