package domain

// School is one row of the school location export.
type School struct {
	Country          string `csv:"country" json:"country"`
	ISO2Code         string `csv:"iso2_code" json:"iso2_code"`
	ISO3Code         string `csv:"iso3_code" json:"iso3_code"`
	SchoolID         string `csv:"school_id_giga" json:"school_id_giga"`
	SchoolName       string `csv:"school_name" json:"school_name"`
	Admin1ID         string `csv:"admin1_id_giga" json:"admin1_id_giga"`
	Admin2ID         string `csv:"admin2_id_giga" json:"admin2_id_giga"`
	EducationLevel   string `csv:"education_level" json:"education_level"`
	Connectivity     string `csv:"connectivity" json:"connectivity"`
	Latitude         string `csv:"latitude" json:"latitude"`
	Longitude        string `csv:"longitude" json:"longitude"`
	SchoolDataSource string `csv:"school_data_source" json:"school_data_source"`
}

// Tower is one row of the cell tower export.
type Tower struct {
	Radio         string `csv:"radio" json:"radio"`
	MCC           string `csv:"mcc" json:"mcc"`
	Net           string `csv:"net" json:"net"`
	Area          string `csv:"area" json:"area"`
	Cell          string `csv:"cell" json:"cell"`
	Unit          string `csv:"unit" json:"unit"`
	Lon           string `csv:"lon" json:"lon"`
	Lat           string `csv:"lat" json:"lat"`
	Range         string `csv:"range" json:"range"`
	Samples       string `csv:"samples" json:"samples"`
	Changeable    string `csv:"changeable" json:"changeable"`
	Created       string `csv:"created" json:"created"`
	Updated       string `csv:"updated" json:"updated"`
	AverageSignal string `csv:"averageSignal" json:"averageSignal"`
}

// TowerFields holds the tower columns of a merged row. Coordinates are renamed
// so they do not collide with the school's latitude/longitude.
type TowerFields struct {
	Radio         string `csv:"radio" json:"radio"`
	MCC           string `csv:"mcc" json:"mcc"`
	Net           string `csv:"net" json:"net"`
	Area          string `csv:"area" json:"area"`
	Cell          string `csv:"cell" json:"cell"`
	Unit          string `csv:"unit" json:"unit"`
	TowerLon      string `csv:"tower_lon" json:"tower_lon"`
	TowerLat      string `csv:"tower_lat" json:"tower_lat"`
	Range         string `csv:"range" json:"range"`
	Samples       string `csv:"samples" json:"samples"`
	Changeable    string `csv:"changeable" json:"changeable"`
	Created       string `csv:"created" json:"created"`
	Updated       string `csv:"updated" json:"updated"`
	AverageSignal string `csv:"averageSignal" json:"averageSignal"`
}

// SchoolTower is a school joined with its nearest tower.
type SchoolTower struct {
	School
	TowerFields
	DistanceKm string `csv:"distance_km" json:"distance_km"`
	Error      string `csv:"error" json:"error,omitempty"`
}

// ElevationRecord adds the school→tower elevation profile.
type ElevationRecord struct {
	SchoolTower
	ElevationProfile string `csv:"elevation_profile" json:"elevation_profile"`
}

// PopulationRecord adds the population density at the school.
type PopulationRecord struct {
	ElevationRecord
	PopulationDensity string `csv:"population_density" json:"population_density"`
}

// Recommendation is one ranked school in ready-data.csv.
type Recommendation struct {
	SchoolID                            string `csv:"schoolId" json:"schoolId"`
	ScoreOfImpact                       string `csv:"scoreOfImpact" json:"scoreOfImpact"`
	RecommendedSolutionWhy              string `csv:"recommendedSolutionWhy" json:"recommendedSolutionWhy"`
	RecommendedSolutionEstimatedCost    string `csv:"recommendedSolutionEstimatedCost" json:"recommendedSolutionEstimatedCost"`
	AlternativeSolutionWhyAndWhyIsWorse string `csv:"alternativeSolutionWhyAndWhyIsWorse" json:"alternativeSolutionWhyAndWhyIsWorse"`
	AlternativeSolutionEstimatedCost    string `csv:"alternativeSolutionEstimatedCost" json:"alternativeSolutionEstimatedCost"`
	SchoolName                          string `csv:"schoolName" json:"schoolName"`
	Lat                                 string `csv:"lat" json:"lat"`
	Lon                                 string `csv:"lon" json:"lon"`
}
