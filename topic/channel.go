package topic

import "regexp"

const (
	channelInput  = "data/in"
	channelOutput = "data/out"
)

var channelShape = regexp.MustCompile(`^(.*)/data/(in|out)$`)

// ChannelInput returns the write direction of the channel at base.
func ChannelInput(base string) string { return Join(base, channelInput) }

// ChannelOutput returns the read direction of the channel at base.
func ChannelOutput(base string) string { return Join(base, channelOutput) }

// OutputFromInput maps base/data/in to base/data/out. Topics of another
// shape are returned unchanged.
func OutputFromInput(input string) string {
	return channelShape.ReplaceAllString(input, "${1}/"+channelOutput)
}

// InputFromOutput is the inverse of OutputFromInput.
func InputFromOutput(output string) string {
	return channelShape.ReplaceAllString(output, "${1}/"+channelInput)
}
