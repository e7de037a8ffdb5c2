package model

import "fmt"

type Recording struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

const recordingBaseURL = "https://kev.ing/mp3"

var recordingTitles = []string{
	"Your Friend Is In the Hospital",
	"Where Are You",
	"Pick Me Up Please",
	"I Need Your Help",
	"Get Home Now",
}

// Recordings returns the fixed clip catalog: every title once in a male
// voice (ids 1-5) and once in a female voice (ids 6-10).
func Recordings() []Recording {
	out := make([]Recording, 0, 2*len(recordingTitles))
	for i, voice := range []string{"Male voice", "Female voice"} {
		for j, title := range recordingTitles {
			id := i*len(recordingTitles) + j + 1
			out = append(out, Recording{
				ID:          id,
				Title:       title,
				Description: voice,
				URL:         fmt.Sprintf("%s/%d.mp3", recordingBaseURL, id),
			})
		}
	}
	return out
}

func FindRecording(id int) (Recording, bool) {
	for _, r := range Recordings() {
		if r.ID == id {
			return r, true
		}
	}
	return Recording{}, false
}
