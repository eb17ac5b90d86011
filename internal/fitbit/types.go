package fitbit

// TokenResponse is the provider's token endpoint payload, shared by the
// authorization-code and refresh grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
}

type errorResponse struct {
	Errors []struct {
		ErrorType string `json:"errorType"`
		Message   string `json:"message"`
	} `json:"errors"`
}

// ActivityResponse is the daily activity summary document.
type ActivityResponse struct {
	Summary struct {
		Steps               int     `json:"steps"`
		CaloriesOut         int     `json:"caloriesOut"`
		ActivityCalories    int     `json:"activityCalories"`
		FairlyActiveMinutes int     `json:"fairlyActiveMinutes"`
		VeryActiveMinutes   int     `json:"veryActiveMinutes"`
		Distances           []struct {
			Activity string  `json:"activity"`
			Distance float64 `json:"distance"`
		} `json:"distances"`
	} `json:"summary"`
}

// TotalDistance returns the "total" entry of the distances list, or zero when
// the provider omitted it.
func (a *ActivityResponse) TotalDistance() float64 {
	for _, d := range a.Summary.Distances {
		if d.Activity == "total" {
			return d.Distance
		}
	}
	return 0
}

// HeartResponse is the daily heart-rate series document.
type HeartResponse struct {
	ActivitiesHeart []struct {
		Value struct {
			RestingHeartRate *int `json:"restingHeartRate"`
		} `json:"value"`
	} `json:"activities-heart"`
}

// RestingHeartRate returns the day's resting heart rate, or nil when the
// provider has no reading.
func (h *HeartResponse) RestingHeartRate() *int {
	if len(h.ActivitiesHeart) == 0 {
		return nil
	}
	return h.ActivitiesHeart[0].Value.RestingHeartRate
}

// SleepResponse is the daily sleep summary document.
type SleepResponse struct {
	Summary struct {
		TotalMinutesAsleep int `json:"totalMinutesAsleep"`
		TotalSleepRecords  int `json:"totalSleepRecords"`
	} `json:"summary"`
}
