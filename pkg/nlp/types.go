// Package nlp extracts structured meaning from casting-conversation
// utterances: a closed intent set scored by a pattern cascade with an
// optional embedding fallback, typed entity slots backed by gazetteers,
// and lightweight sentiment, urgency and domain classifiers.
package nlp

// Intent is one of the closed set of conversation intents
type Intent string

const (
	IntentSearchTalent        Intent = "search_talent"
	IntentViewProfile         Intent = "view_profile"
	IntentScheduleAudition    Intent = "schedule_audition"
	IntentAnalyzeScript       Intent = "analyze_script"
	IntentCheckAvailability   Intent = "check_availability"
	IntentDiscussBudget       Intent = "discuss_budget"
	IntentRecommendation      Intent = "request_recommendation"
	IntentCompareTalents      Intent = "compare_talents"
	IntentContractNegotiation Intent = "contract_negotiation"
	IntentFeedback            Intent = "feedback"
	IntentTechnicalSupport    Intent = "technical_support"
	IntentGeneralInquiry      Intent = "general_inquiry"
)

// EntityType names a typed extraction slot
type EntityType string

const (
	EntityAge             EntityType = "age"
	EntityGender          EntityType = "gender"
	EntityLocation        EntityType = "location"
	EntityLanguage        EntityType = "language"
	EntitySkill           EntityType = "skill"
	EntityExperienceLevel EntityType = "experience_level"
	EntityRoleType        EntityType = "role_type"
	EntityProjectType     EntityType = "project_type"
	EntityDate            EntityType = "date"
	EntityName            EntityType = "name"
	EntityBudget          EntityType = "budget"
)

// Entity is one extracted slot value
type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
}

// Sentiment buckets an utterance's tone
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Urgency buckets how time-critical an utterance is
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Domain is the production domain an utterance concerns
type Domain string

const (
	DomainFilm       Domain = "film"
	DomainTelevision Domain = "television"
	DomainTheater    Domain = "theater"
	DomainCommercial Domain = "commercial"
	DomainVoice      Domain = "voice"
	DomainGeneral    Domain = "general"
)

// Analysis is the full result of analysing one utterance
type Analysis struct {
	Intent     Intent    `json:"intent"`
	Confidence float64   `json:"confidence"`
	Entities   []Entity  `json:"entities"`
	Sentiment  Sentiment `json:"sentiment"`
	Urgency    Urgency   `json:"urgency"`
	Domain     Domain    `json:"domain"`
}

// EntityValue returns the highest-confidence value for a type, or ""
func (a *Analysis) EntityValue(t EntityType) string {
	best := ""
	bestConf := -1.0
	for _, e := range a.Entities {
		if e.Type == t && e.Confidence > bestConf {
			best = e.Value
			bestConf = e.Confidence
		}
	}
	return best
}
