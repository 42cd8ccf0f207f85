package snapshot

import (
	"github.com/cloudbox/stampwatch"
)

// DiffGlobal returns, in the order of stamps, every stamp whose count in
// current is strictly greater than in previous. Equal or decreased counts
// are not reported.
func DiffGlobal(stamps []stampwatch.StampID, previous, current stampwatch.GlobalSnapshot) []stampwatch.StampID {
	increased := make([]stampwatch.StampID, 0)
	for _, stamp := range stamps {
		if current[stamp] > previous[stamp] {
			increased = append(increased, stamp)
		}
	}

	return increased
}

// DiffChannel returns every known channel whose count in current is strictly
// greater than in previous, in known-channel order.
func DiffChannel(channels []stampwatch.ChannelID, previous, current stampwatch.ChannelSnapshot) []stampwatch.ChannelID {
	increased := make([]stampwatch.ChannelID, 0)
	for _, channel := range channels {
		if current[channel] > previous[channel] {
			increased = append(increased, channel)
		}
	}

	return increased
}
