package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/glebk/draw-bot/internal/domain"
	"github.com/glebk/draw-bot/internal/service"
)

const drawAction = "draw"

// ownerID scopes sessions to the chat that created them
func ownerID(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}

// parseNewSession reads "/new" arguments of the form
//
//	Alice, Bob=sounds/bob.ogg | Sword: 1, Shield: 24
//
// A participant may carry an audio reference after "=".
func parseNewSession(args string) (service.SessionSetup, error) {
	var setup service.SessionSetup

	roster, prizes, ok := strings.Cut(args, "|")
	if !ok {
		return setup, errors.New("separate participants and items with |")
	}

	for _, part := range strings.Split(roster, ",") {
		name, ref, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		setup.Names = append(setup.Names, name)
		if ref = strings.TrimSpace(ref); ref != "" {
			if setup.AudioRefs == nil {
				setup.AudioRefs = map[string]string{}
			}
			setup.AudioRefs[name] = ref
		}
	}

	for _, part := range strings.Split(prizes, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		sep := strings.LastIndex(part, ":")
		if sep < 0 {
			return setup, fmt.Errorf("item %q needs a cooldown in hours, e.g. Sword: 1", strings.TrimSpace(part))
		}
		name := strings.TrimSpace(part[:sep])
		hours, err := strconv.ParseFloat(strings.TrimSpace(part[sep+1:]), 64)
		if err != nil {
			return setup, fmt.Errorf("invalid cooldown for %q", name)
		}
		setup.Items = append(setup.Items, domain.Item{Name: name, CooldownHours: hours})
	}

	return setup, nil
}

// parseItemNumber converts a 1-based item number typed by a user to an index
func parseItemNumber(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("item number must be 1 or more")
	}
	return n - 1, nil
}

func drawCallbackData(sessionID string, index int) string {
	return fmt.Sprintf("%s:%s:%d", drawAction, sessionID, index)
}

// parseCallback splits "draw:<session>:<index>"
func parseCallback(data string) (action, sessionID string, index int, err error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("invalid callback %q", data)
	}
	index, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid item index in %q", data)
	}
	return parts[0], parts[1], index, nil
}
