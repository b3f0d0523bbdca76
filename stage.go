package relpipe

// Stage is one named phase of the release pipeline, e.g. cache-population.
// Its definition is immutable once the pipeline is built: a matrix of
// environment variants and an ordered list of steps executed in every
// resolved context. Runtime state lives on StageState.
type Stage struct {
	// Name identifies the stage within its pipeline.
	Name string
	// Description provides details about the stage's purpose.
	Description string
	// Matrix declares the environment variants this stage fans out over.
	Matrix Matrix
	// Steps is the ordered list of steps run in each resolved context.
	Steps []Step

	// middleware contains the middleware functions to apply during stage
	// execution.
	middleware []StageMiddleware
}

// NewStage creates a new stage with the given properties.
func NewStage(name, description string) *Stage {
	return &Stage{
		Name:        name,
		Description: description,
		Steps:       []Step{},
		middleware:  []StageMiddleware{},
	}
}

// AddStep appends a step to the stage.
// Steps execute in the order they are added.
func (s *Stage) AddStep(step Step) {
	s.Steps = append(s.Steps, step)
}

// SetMatrix sets the stage's variant matrix.
func (s *Stage) SetMatrix(m Matrix) {
	s.Matrix = m
}

// Use adds middleware to the stage's middleware chain.
// Middleware is executed in the order it is added.
func (s *Stage) Use(middleware ...StageMiddleware) {
	s.middleware = append(s.middleware, middleware...)
}

// GetMiddleware returns the stage's middleware chain.
func (s *Stage) GetMiddleware() []StageMiddleware {
	return s.middleware
}
