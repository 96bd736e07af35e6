package box

import (
	"github.com/goccy/go-json"
)

// for imroc/req and the session files
var jsonMarshal = json.Marshal
var jsonUnmarshal = json.Unmarshal
