package nlp

import "regexp"

// intentConfig is the per-intent pattern table driving the cascade.
// keywords and regexes are matched against the lowercased utterance;
// entityTypes list the slots whose presence supports the intent;
// examples seed the embedding-centroid fallback.
type intentConfig struct {
	keywords    []string
	regexes     []*regexp.Regexp
	entityTypes []EntityType
	examples    []string
}

var intentTable = map[Intent]intentConfig{
	IntentSearchTalent: {
		keywords: []string{"find", "search", "looking for", "need", "actor", "actress", "talent", "performer", "cast"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:find|looking for|need|search for)\s+(?:an?\s+)?\w*\s*(?:actor|actress|talent|performer|dancer|singer)`),
			regexp.MustCompile(`who (?:can|could) play`),
		},
		entityTypes: []EntityType{EntityAge, EntityGender, EntitySkill, EntityLocation, EntityLanguage},
		examples: []string{
			"find me a tall actor who can do stage combat",
			"i am looking for an actress in her thirties based in london",
			"search for bilingual voice talent",
		},
	},
	IntentViewProfile: {
		keywords: []string{"profile", "details", "show me", "tell me about", "resume", "credits", "portfolio"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:show|view|open|pull up)\s+(?:the\s+)?profile`),
			regexp.MustCompile(`tell me (?:more\s+)?about\s+[A-Z]`),
		},
		entityTypes: []EntityType{EntityName},
		examples: []string{
			"show me her full profile",
			"tell me more about this performer's credits",
		},
	},
	IntentScheduleAudition: {
		keywords: []string{"schedule", "audition", "book", "appointment", "callback", "meeting", "arrange"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:schedule|book|arrange|set up)\s+(?:an?\s+)?(?:audition|callback|meeting)`),
		},
		entityTypes: []EntityType{EntityDate, EntityName},
		examples: []string{
			"schedule an audition for next tuesday",
			"book a callback with the shortlisted actors",
		},
	},
	IntentAnalyzeScript: {
		keywords: []string{"script", "screenplay", "scene", "breakdown", "analyze", "characters", "sides"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:analyze|break\s?down|read)\s+(?:this|the|my)\s+(?:script|screenplay|scene)`),
		},
		entityTypes: []EntityType{EntityProjectType},
		examples: []string{
			"analyze this script and list the characters",
			"break down the casting requirements in this screenplay",
		},
	},
	IntentCheckAvailability: {
		keywords: []string{"available", "availability", "free", "schedule", "dates", "when"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:is|are)\s+\w+(?:\s+\w+)?\s+(?:available|free)`),
			regexp.MustCompile(`check\s+(?:\w+\s+)?availability`),
		},
		entityTypes: []EntityType{EntityDate, EntityName},
		examples: []string{
			"is she available in march",
			"check availability for the week of the shoot",
		},
	},
	IntentDiscussBudget: {
		keywords: []string{"budget", "rate", "fee", "cost", "price", "pay", "salary", "afford", "day rate"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:what|how much).{0,30}(?:cost|charge|rate|fee)`),
			regexp.MustCompile(`\$\s?\d+|\d+\s?(?:per day|a day|/day)`),
		},
		entityTypes: []EntityType{EntityBudget},
		examples: []string{
			"what is her day rate",
			"can we afford this actor on our budget",
		},
	},
	IntentRecommendation: {
		keywords: []string{"recommend", "suggest", "suggestion", "advice", "who should", "best fit", "ideas"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:recommend|suggest)\s+(?:some|a|the)?`),
			regexp.MustCompile(`who (?:should|would you)`),
		},
		entityTypes: []EntityType{EntityRoleType, EntityProjectType},
		examples: []string{
			"recommend someone for the villain role",
			"who would you suggest for this part",
		},
	},
	IntentCompareTalents: {
		keywords: []string{"compare", "versus", "vs", "better", "difference", "between", "side by side"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`compare\s+\w+`),
			regexp.MustCompile(`\w+\s+(?:vs\.?|versus)\s+\w+`),
		},
		entityTypes: []EntityType{EntityName},
		examples: []string{
			"compare these two actresses",
			"who is the better fit between them",
		},
	},
	IntentContractNegotiation: {
		keywords: []string{"contract", "terms", "negotiate", "agreement", "clause", "deal", "sign", "offer"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:negotiate|draft|review|send)\s+(?:the\s+)?(?:contract|offer|agreement|terms)`),
		},
		entityTypes: []EntityType{EntityName, EntityBudget},
		examples: []string{
			"let's negotiate the contract terms",
			"send the offer to her agent",
		},
	},
	IntentFeedback: {
		keywords: []string{"feedback", "thought", "opinion", "liked", "disliked", "great", "terrible", "impressed"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:my|our)\s+(?:feedback|thoughts?|notes?)\s+on`),
			regexp.MustCompile(`(?:was|were)\s+(?:great|excellent|terrible|disappointing|impressive)`),
		},
		entityTypes: []EntityType{EntityName},
		examples: []string{
			"my feedback on yesterday's audition",
			"she was excellent in the callback",
		},
	},
	IntentTechnicalSupport: {
		keywords: []string{"error", "bug", "broken", "not working", "crash", "login", "password", "help with the"},
		regexes: []*regexp.Regexp{
			regexp.MustCompile(`(?:can't|cannot|unable to)\s+(?:log\s?in|upload|access|open)`),
			regexp.MustCompile(`(?:page|site|app|upload)\s+(?:is\s+)?(?:broken|crashing|not working)`),
		},
		examples: []string{
			"the upload page is broken",
			"i cannot log in to my account",
		},
	},
	IntentGeneralInquiry: {
		keywords: []string{"hello", "hi", "thanks", "what can you", "how does"},
		examples: []string{
			"hello there",
			"what can you help me with",
		},
	},
}

// cascade weights: keyword ratio, entity ratio, regex ratio
const (
	kwWeight     = 0.4
	entityWeight = 0.3
	regexWeight  = 0.3
)

// cascade thresholds
const (
	embeddingFallbackBelow = 0.5
	generalInquiryBelow    = 0.2
	generalInquiryScore    = 0.5
)
